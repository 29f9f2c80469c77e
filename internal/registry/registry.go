package registry

import (
	"errors"
	"fmt"
	"time"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/tics"
)

// NoPlayer marks an empty split or an unassigned node.
const NoPlayer = -1

var (
	ErrNodeRange   = errors.New("registry: node out of range")
	ErrPlayerRange = errors.New("registry: player out of range")
	ErrSplitRange  = errors.New("registry: split out of range")
	ErrSlotTaken   = errors.New("registry: player slot held by another node")
)

// BanStatus caches the ban lookup made when a node first appears.
type BanStatus struct {
	Active  bool
	Reason  string
	Expires time.Time
}

// Permanent reports a ban with no expiry.
func (b BanStatus) Permanent() bool {
	return b.Active && b.Expires.IsZero()
}

// Node is a transport peer. It hosts up to four players.
type Node struct {
	InGame         bool
	NeedsAuth      bool
	FreezeTimeout  tics.Tic
	Players        [protocol.MaxSplitscreen]int
	PlayersPerNode int
	Waiting        int

	NetTics      tics.Tic
	SupposedTics tics.Tic

	SendingSaveGame   bool
	ResendingSaveGame bool
	ResendCooldown    tics.Tic
	ResyncAttempts    int
	// ResyncDeadline is when an unconfirmed resync is given up on.
	ResyncDeadline tics.Tic

	Ban BanStatus

	LastReceivedKey   [protocol.MaxSplitscreen]protocol.PublicKey
	LastSentChallenge protocol.Challenge
}

// Player is a simulation participant.
type Player struct {
	InGame         bool
	Name           string
	PublicKey      protocol.PublicKey
	Availabilities [protocol.MaxAvailability]byte
	Admin          bool
	Bot            bool
	Node           int
	Split          int
	JoinTic        tics.Tic
}

// Guest reports an unauthenticated player.
func (p Player) Guest() bool {
	return p.PublicKey.IsZero()
}

// Registry maps nodes to the players they host. The server is the only
// writer of slot assignments; clients mirror them through text commands.
type Registry struct {
	nodes   [protocol.MaxNodes]Node
	players [protocol.MaxPlayers]Player
}

// New returns a registry with every node and slot free.
func New() *Registry {
	r := &Registry{}
	for n := range r.nodes {
		r.nodes[n] = emptyNode()
	}
	for p := range r.players {
		r.players[p] = emptyPlayer()
	}
	return r
}

func emptyNode() Node {
	node := Node{}
	for i := range node.Players {
		node.Players[i] = NoPlayer
	}
	return node
}

func emptyPlayer() Player {
	return Player{Node: NoPlayer}
}

// ValidNode reports whether n indexes a node.
func ValidNode(n int) bool {
	return n >= 0 && n < protocol.MaxNodes
}

// ValidPlayer reports whether p indexes a player slot.
func ValidPlayer(p int) bool {
	return p >= 0 && p < protocol.MaxPlayers
}

// Node returns the node record for n, or nil when out of range.
func (r *Registry) Node(n int) *Node {
	if !ValidNode(n) {
		return nil
	}
	return &r.nodes[n]
}

// Player returns the player record for p, or nil when out of range.
func (r *Registry) Player(p int) *Player {
	if !ValidPlayer(p) {
		return nil
	}
	return &r.players[p]
}

// AddNode marks n as in game with its acknowledgement anchored at tic.
func (r *Registry) AddNode(n int, tic tics.Tic) error {
	node := r.Node(n)
	if node == nil {
		return fmt.Errorf("%w: %d", ErrNodeRange, n)
	}
	node.InGame = true
	node.NeedsAuth = false
	node.NetTics = tic
	node.SupposedTics = tic
	return nil
}

// ResetNode returns n to its pristine state. Resetting twice is harmless.
func (r *Registry) ResetNode(n int) {
	node := r.Node(n)
	if node == nil {
		return
	}
	*node = emptyNode()
}

// MapNodeToPlayer assigns player slot p to split of node n. A slot already
// held by a different node is refused.
func (r *Registry) MapNodeToPlayer(n, split, p int) error {
	node := r.Node(n)
	if node == nil {
		return fmt.Errorf("%w: %d", ErrNodeRange, n)
	}
	if split < 0 || split >= protocol.MaxSplitscreen {
		return fmt.Errorf("%w: %d", ErrSplitRange, split)
	}
	player := r.Player(p)
	if player == nil {
		return fmt.Errorf("%w: %d", ErrPlayerRange, p)
	}
	if player.Node != NoPlayer && player.Node != n {
		return fmt.Errorf("%w: slot %d held by node %d", ErrSlotTaken, p, player.Node)
	}
	if previous := node.Players[split]; previous != NoPlayer && previous != p {
		r.players[previous].Node = NoPlayer
		node.PlayersPerNode--
	}
	if node.Players[split] != p {
		node.PlayersPerNode++
	}
	node.Players[split] = p
	player.Node = n
	player.Split = split
	return nil
}

// NodeToSplitPlayer returns the slot of split on node n, or NoPlayer.
func (r *Registry) NodeToSplitPlayer(n, split int) int {
	node := r.Node(n)
	if node == nil || split < 0 || split >= protocol.MaxSplitscreen {
		return NoPlayer
	}
	return node.Players[split]
}

// RemovePlayer frees slot p. It reports the node that hosted the player and
// whether that node has no players left.
func (r *Registry) RemovePlayer(p int) (node int, empty bool) {
	player := r.Player(p)
	if player == nil {
		return NoPlayer, false
	}
	node = player.Node
	*player = emptyPlayer()
	if host := r.Node(node); host != nil {
		for i, held := range host.Players {
			if held == p {
				host.Players[i] = NoPlayer
				host.PlayersPerNode--
			}
		}
		if host.PlayersPerNode < 0 {
			host.PlayersPerNode = 0
		}
		return node, host.PlayersPerNode == 0
	}
	return node, false
}

// FreeSlot returns the lowest slot that is neither in game nor held by a
// node. When every slot is taken and allowBots is set, the lowest bot slot
// is returned instead. NoPlayer means the session is full.
func (r *Registry) FreeSlot(allowBots bool) int {
	for p := range r.players {
		if !r.players[p].InGame && r.players[p].Node == NoPlayer {
			return p
		}
	}
	if allowBots {
		for p := range r.players {
			if r.players[p].Bot && r.players[p].Node == NoPlayer {
				return p
			}
		}
	}
	return NoPlayer
}

// ConnectedPlayers counts slots owned by a node. This includes players
// admitted earlier in the same tic whose join has not run yet.
func (r *Registry) ConnectedPlayers() int {
	count := 0
	for _, player := range r.players {
		if player.Node != NoPlayer {
			count++
		}
	}
	return count
}

// InGamePlayers lists the slots currently in the simulation.
func (r *Registry) InGamePlayers() []int {
	var out []int
	for p, player := range r.players {
		if player.InGame {
			out = append(out, p)
		}
	}
	return out
}

// NodePlayers lists the slots hosted by node n, in split order.
func (r *Registry) NodePlayers(n int) []int {
	node := r.Node(n)
	if node == nil {
		return nil
	}
	var out []int
	for _, p := range node.Players {
		if p != NoPlayer {
			out = append(out, p)
		}
	}
	return out
}

// Nodes lists the nodes that are in game or part way through the key
// exchange.
func (r *Registry) Nodes() []int {
	var out []int
	for n := range r.nodes {
		if r.nodes[n].InGame || r.nodes[n].NeedsAuth {
			out = append(out, n)
		}
	}
	return out
}

// InGameNodes lists the nodes currently in the game.
func (r *Registry) InGameNodes() []int {
	var out []int
	for n := range r.nodes {
		if r.nodes[n].InGame {
			out = append(out, n)
		}
	}
	return out
}

// SlotOwners verifies that every held slot is claimed by exactly the node
// that lists it. It returns the first inconsistency found.
func (r *Registry) SlotOwners() error {
	seen := make(map[int]int)
	for n := range r.nodes {
		for split, p := range r.nodes[n].Players {
			if p == NoPlayer {
				continue
			}
			if other, dup := seen[p]; dup {
				return fmt.Errorf("%w: slot %d listed by nodes %d and %d", ErrSlotTaken, p, other, n)
			}
			seen[p] = n
			if r.players[p].Node != n || r.players[p].Split != split {
				return fmt.Errorf("registry: slot %d listed by node %d split %d but points at node %d split %d", p, n, split, r.players[p].Node, r.players[p].Split)
			}
		}
	}
	return nil
}
