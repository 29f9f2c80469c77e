package protocol

import "fmt"

// ClientConfig is the join request. Names and responses are indexed by split.
type ClientConfig struct {
	Marker         uint8
	PacketVersion  uint8
	Application    string
	Version        uint8
	Subversion     uint8
	LocalPlayers   uint8
	Names          [MaxSplitscreen]string
	Availabilities [MaxAvailability]byte
	Responses      [MaxSplitscreen]Signature
}

const applicationLength = 16

// NewClientConfig fills in the marker and version fields for this build.
func NewClientConfig(localPlayers int) ClientConfig {
	return ClientConfig{
		Marker:        Marker,
		PacketVersion: PacketVersion,
		Application:   Application,
		Version:       Version,
		Subversion:    Subversion,
		LocalPlayers:  uint8(localPlayers),
	}
}

func AppendClientConfig(dst []byte, c ClientConfig) []byte {
	dst = append(dst, c.Marker, c.PacketVersion)
	dst = appendFixedString(dst, c.Application, applicationLength)
	dst = append(dst, c.Version, c.Subversion, c.LocalPlayers)
	for _, name := range c.Names {
		dst = appendFixedString(dst, name, MaxPlayerName)
	}
	dst = append(dst, c.Availabilities[:]...)
	for _, sig := range c.Responses {
		dst = append(dst, sig[:]...)
	}
	return dst
}

func DecodeClientConfig(payload []byte) (ClientConfig, error) {
	r := NewReader(payload)
	var c ClientConfig
	c.Marker = r.U8()
	c.PacketVersion = r.U8()
	c.Application = r.FixedString(applicationLength)
	c.Version = r.U8()
	c.Subversion = r.U8()
	c.LocalPlayers = r.U8()
	for i := range c.Names {
		c.Names[i] = r.FixedString(MaxPlayerName)
	}
	r.Read(c.Availabilities[:])
	for i := range c.Responses {
		r.Read(c.Responses[i][:])
	}
	if err := r.Done(); err != nil {
		return ClientConfig{}, err
	}
	return c, nil
}

// ServerConfig admits a node and tells it where the session stands.
type ServerConfig struct {
	Version        uint8
	Subversion     uint8
	ServerPlayer   uint8
	MaxPlayer      uint8
	ClientNode     uint8
	AllowNewPlayer bool
	GameTic        uint32
	InLevel        bool
	ServerName     string
}

func AppendServerConfig(dst []byte, c ServerConfig) []byte {
	dst = append(dst, c.Version, c.Subversion, c.ServerPlayer, c.MaxPlayer, c.ClientNode, boolByte(c.AllowNewPlayer))
	dst = appendU32(dst, c.GameTic)
	dst = append(dst, boolByte(c.InLevel))
	return appendFixedString(dst, c.ServerName, MaxServerName)
}

func DecodeServerConfig(payload []byte) (ServerConfig, error) {
	r := NewReader(payload)
	c := ServerConfig{
		Version:        r.U8(),
		Subversion:     r.U8(),
		ServerPlayer:   r.U8(),
		MaxPlayer:      r.U8(),
		ClientNode:     r.U8(),
		AllowNewPlayer: r.U8() != 0,
		GameTic:        r.U32(),
		InLevel:        r.U8() != 0,
		ServerName:     r.FixedString(MaxServerName),
	}
	if err := r.Done(); err != nil {
		return ServerConfig{}, err
	}
	return c, nil
}

// ServerRefuse carries the reason a join was turned down.
type ServerRefuse struct {
	Reason string
}

func AppendServerRefuse(dst []byte, s ServerRefuse) []byte {
	return appendString(dst, s.Reason)
}

func DecodeServerRefuse(payload []byte) (ServerRefuse, error) {
	r := NewReader(payload)
	s := ServerRefuse{Reason: r.LenString()}
	if err := r.Done(); err != nil {
		return ServerRefuse{}, err
	}
	return s, nil
}

// AskInfo is a discovery ping from a node that is not in the game.
type AskInfo struct {
	Marker  uint8
	Version uint8
	Time    uint32
}

func AppendAskInfo(dst []byte, a AskInfo) []byte {
	dst = append(dst, a.Marker, a.Version)
	return appendU32(dst, a.Time)
}

func DecodeAskInfo(payload []byte) (AskInfo, error) {
	r := NewReader(payload)
	a := AskInfo{Marker: r.U8(), Version: r.U8(), Time: r.U32()}
	if err := r.Done(); err != nil {
		return AskInfo{}, err
	}
	return a, nil
}

// ServerInfo answers AskInfo.
type ServerInfo struct {
	Marker        uint8
	PacketVersion uint8
	Application   string
	Version       uint8
	Subversion    uint8
	Players       uint8
	MaxPlayer     uint8
	RefuseReason  uint8
	ServerName    string
	Time          uint32
	Dedicated     bool
}

// Reasons a server would refuse a join, reported ahead of time in ServerInfo.
const (
	InfoJoinable uint8 = iota
	InfoJoinsDisabled
	InfoFull
)

func AppendServerInfo(dst []byte, s ServerInfo) []byte {
	dst = append(dst, s.Marker, s.PacketVersion)
	dst = appendFixedString(dst, s.Application, applicationLength)
	dst = append(dst, s.Version, s.Subversion, s.Players, s.MaxPlayer, s.RefuseReason)
	dst = appendFixedString(dst, s.ServerName, MaxServerName)
	dst = appendU32(dst, s.Time)
	return append(dst, boolByte(s.Dedicated))
}

func DecodeServerInfo(payload []byte) (ServerInfo, error) {
	r := NewReader(payload)
	s := ServerInfo{
		Marker:        r.U8(),
		PacketVersion: r.U8(),
		Application:   r.FixedString(applicationLength),
		Version:       r.U8(),
		Subversion:    r.U8(),
		Players:       r.U8(),
		MaxPlayer:     r.U8(),
		RefuseReason:  r.U8(),
		ServerName:    r.FixedString(MaxServerName),
		Time:          r.U32(),
		Dedicated:     r.U8() != 0,
	}
	if err := r.Done(); err != nil {
		return ServerInfo{}, err
	}
	if s.Marker != Marker || s.PacketVersion != PacketVersion {
		return s, fmt.Errorf("protocol: incompatible server info format %d/%d", s.Marker, s.PacketVersion)
	}
	return s, nil
}

// PingTable reports averaged lag per player, with the server's maxping last.
type PingTable struct {
	Pings   [MaxPlayers]uint32
	MaxPing uint32
}

func AppendPingTable(dst []byte, p PingTable) []byte {
	for _, ping := range p.Pings {
		dst = appendU32(dst, ping)
	}
	return appendU32(dst, p.MaxPing)
}

func DecodePingTable(payload []byte) (PingTable, error) {
	r := NewReader(payload)
	var p PingTable
	for i := range p.Pings {
		p.Pings[i] = r.U32()
	}
	p.MaxPing = r.U32()
	if err := r.Done(); err != nil {
		return PingTable{}, err
	}
	return p, nil
}

// SaveGameFragment carries part of a compressed snapshot.
type SaveGameFragment struct {
	Tic    uint32
	Total  uint32
	Offset uint32
	Data   []byte
}

// MaxFragmentData bounds the data carried by one fragment.
const MaxFragmentData = 1024

func AppendSaveGameFragment(dst []byte, f SaveGameFragment) []byte {
	dst = appendU32(dst, f.Tic)
	dst = appendU32(dst, f.Total)
	dst = appendU32(dst, f.Offset)
	dst = appendU16(dst, uint16(len(f.Data)))
	return append(dst, f.Data...)
}

func DecodeSaveGameFragment(payload []byte) (SaveGameFragment, error) {
	r := NewReader(payload)
	f := SaveGameFragment{Tic: r.U32(), Total: r.U32(), Offset: r.U32()}
	size := int(r.U16())
	f.Data = r.Bytes(size)
	if err := r.Done(); err != nil {
		return SaveGameFragment{}, err
	}
	if size > MaxFragmentData || uint64(f.Offset)+uint64(size) > uint64(f.Total) {
		return SaveGameFragment{}, fmt.Errorf("%w: fragment %d+%d of %d", ErrLengthMismatch, f.Offset, size, f.Total)
	}
	return f, nil
}

// SaveGameRequest is the payload of CanReceiveGamestate. With no offsets
// it asks for a whole snapshot; otherwise it names the fragments of
// transfer Tic that never arrived.
type SaveGameRequest struct {
	Tic     uint32
	Offsets []uint32
}

// MaxRequestedFragments bounds the offsets carried by one request.
const MaxRequestedFragments = 255

// AppendSaveGameRequest writes q. Offsets past MaxRequestedFragments are
// left for a later request.
func AppendSaveGameRequest(dst []byte, q SaveGameRequest) []byte {
	if len(q.Offsets) == 0 {
		return dst
	}
	offsets := q.Offsets
	if len(offsets) > MaxRequestedFragments {
		offsets = offsets[:MaxRequestedFragments]
	}
	dst = appendU32(dst, q.Tic)
	dst = append(dst, byte(len(offsets)))
	for _, off := range offsets {
		dst = appendU32(dst, off)
	}
	return dst
}

func DecodeSaveGameRequest(payload []byte) (SaveGameRequest, error) {
	if len(payload) == 0 {
		return SaveGameRequest{}, nil
	}
	r := NewReader(payload)
	q := SaveGameRequest{Tic: r.U32()}
	count := int(r.U8())
	if count == 0 {
		return SaveGameRequest{}, fmt.Errorf("%w: request without offsets", ErrLengthMismatch)
	}
	q.Offsets = make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		q.Offsets = append(q.Offsets, r.U32())
	}
	if err := r.Done(); err != nil {
		return SaveGameRequest{}, err
	}
	return q, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
