// Package join holds the client's connection state machine and the
// server's admission checklist.
package join

import (
	"errors"
	"fmt"
	"time"
)

// State is a step of the client's path into a session.
type State int

const (
	Searching State = iota
	CheckingFiles
	DownloadingFiles
	LoadingFiles
	SettingUpFiles
	SendingKey
	WaitingChallenge
	AskingToJoin
	WaitingJoinResponse
	DownloadingSaveGame
	Connected
	Aborted
	stateCount
)

var stateNames = [...]string{
	Searching:           "searching",
	CheckingFiles:       "checking_files",
	DownloadingFiles:    "downloading_files",
	LoadingFiles:        "loading_files",
	SettingUpFiles:      "setting_up_files",
	SendingKey:          "sending_key",
	WaitingChallenge:    "waiting_challenge",
	AskingToJoin:        "asking_to_join",
	WaitingJoinResponse: "waiting_join_response",
	DownloadingSaveGame: "downloading_savegame",
	Connected:           "connected",
	Aborted:             "aborted",
}

func (s State) String() string {
	if s < 0 || s >= stateCount {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Event drives the machine.
type Event int

const (
	Found Event = iota
	FilesOK
	FilesMissing
	Downloaded
	Loaded
	SetUp
	KeySent
	Challenge
	JoinSent
	Config
	SaveGameLoaded
	Retry
	Refused
	Cancel
	Timeout
	Reset
	eventCount
)

var eventNames = [...]string{
	Found:          "found",
	FilesOK:        "files_ok",
	FilesMissing:   "files_missing",
	Downloaded:     "downloaded",
	Loaded:         "loaded",
	SetUp:          "set_up",
	KeySent:        "key_sent",
	Challenge:      "challenge",
	JoinSent:       "join_sent",
	Config:         "config",
	SaveGameLoaded: "savegame_loaded",
	Retry:          "retry",
	Refused:        "refused",
	Cancel:         "cancel",
	Timeout:        "timeout",
	Reset:          "reset",
}

func (e Event) String() string {
	if e < 0 || e >= eventCount {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// ErrInvalidTransition is returned for an event the current state does
// not accept.
var ErrInvalidTransition = errors.New("join: invalid transition")

const (
	// RetryInterval spaces key and join requests that got no answer.
	RetryInterval = 3 * time.Second
	// JoinCeiling bounds the whole wait for admission.
	JoinCeiling = 5 * time.Minute
)

// TimeoutMessage is the abort reason once JoinCeiling passes.
const TimeoutMessage = "5 minute wait time exceeded."

// transitions lists every accepted (state, event) pair. Anything absent is
// refused.
var transitions = [stateCount]map[Event]State{
	Searching: {
		Found:   CheckingFiles,
		Cancel:  Aborted,
		Timeout: Aborted,
	},
	CheckingFiles: {
		FilesOK:      LoadingFiles,
		FilesMissing: DownloadingFiles,
		Refused:      Aborted,
		Cancel:       Aborted,
		Timeout:      Aborted,
	},
	DownloadingFiles: {
		Downloaded: LoadingFiles,
		Refused:    Aborted,
		Cancel:     Aborted,
		Timeout:    Aborted,
	},
	LoadingFiles: {
		Loaded:  SettingUpFiles,
		Cancel:  Aborted,
		Timeout: Aborted,
	},
	SettingUpFiles: {
		SetUp:   SendingKey,
		Cancel:  Aborted,
		Timeout: Aborted,
	},
	SendingKey: {
		KeySent: WaitingChallenge,
		Refused: Aborted,
		Cancel:  Aborted,
		Timeout: Aborted,
	},
	WaitingChallenge: {
		Challenge: AskingToJoin,
		Retry:     SendingKey,
		Refused:   Aborted,
		Cancel:    Aborted,
		Timeout:   Aborted,
	},
	AskingToJoin: {
		JoinSent: WaitingJoinResponse,
		Config:   DownloadingSaveGame,
		Refused:  Aborted,
		Cancel:   Aborted,
		Timeout:  Aborted,
	},
	WaitingJoinResponse: {
		Config:  DownloadingSaveGame,
		Retry:   AskingToJoin,
		Refused: Aborted,
		Cancel:  Aborted,
		Timeout: Aborted,
	},
	DownloadingSaveGame: {
		SaveGameLoaded: Connected,
		Refused:        Aborted,
		Cancel:         Aborted,
		Timeout:        Aborted,
	},
	Connected: {
		Refused: Aborted,
		Cancel:  Aborted,
		Timeout: Aborted,
	},
	Aborted: {
		Reset: Searching,
	},
}

// Machine is the client's connection state. It is driven from the single
// network update pass and is not safe for concurrent use.
type Machine struct {
	state        State
	reason       string
	askSent      time.Time
	firstAttempt time.Time
	serverFull   bool
}

// NewMachine starts in Searching.
func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) State() State {
	return m.state
}

// Reason is the message recorded by the last abort.
func (m *Machine) Reason() string {
	return m.reason
}

// ServerFull reports that the last refusal was a full server and the
// client is waiting for a slot.
func (m *Machine) ServerFull() bool {
	return m.serverFull
}

// Fire applies ev. Undefined pairs leave the state unchanged.
func (m *Machine) Fire(ev Event) error {
	if ev < 0 || ev >= eventCount {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, m.state)
	}
	next, ok := transitions[m.state][ev]
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, m.state)
	}
	if ev == Reset {
		m.reason = ""
		m.serverFull = false
	}
	if next == SendingKey && m.state == SettingUpFiles {
		m.askSent = time.Time{}
		m.firstAttempt = time.Time{}
	}
	if ev == Challenge {
		// The join request answers the challenge right away.
		m.askSent = time.Time{}
	}
	m.state = next
	return nil
}

// Abort records reason and moves to Aborted with ev, which must be Cancel,
// Timeout or Refused.
func (m *Machine) Abort(ev Event, reason string) error {
	if ev != Cancel && ev != Timeout && ev != Refused {
		return fmt.Errorf("%w: %s is not an abort", ErrInvalidTransition, ev)
	}
	if err := m.Fire(ev); err != nil {
		return err
	}
	m.reason = reason
	return nil
}

// WaitForSlot handles a "server full" refusal: the client keeps asking.
func (m *Machine) WaitForSlot() error {
	if err := m.Fire(Retry); err != nil {
		return err
	}
	m.serverFull = true
	return nil
}

// ReadyToSend reports whether a key or join request may go out now.
func (m *Machine) ReadyToSend(now time.Time) bool {
	if m.state != SendingKey && m.state != AskingToJoin {
		return false
	}
	return !now.Before(m.askSent)
}

// Sent records a request and moves on to wait for its answer.
func (m *Machine) Sent(now time.Time) error {
	ev := KeySent
	if m.state == AskingToJoin {
		ev = JoinSent
	}
	if m.firstAttempt.IsZero() {
		m.firstAttempt = now
	}
	if err := m.Fire(ev); err != nil {
		return err
	}
	m.askSent = now.Add(RetryInterval)
	return nil
}

// Tick applies time-driven transitions: unanswered requests are retried
// and the admission wait is bounded by JoinCeiling.
func (m *Machine) Tick(now time.Time) error {
	switch m.state {
	case WaitingChallenge, WaitingJoinResponse:
		if !now.Before(m.askSent) {
			return m.Fire(Retry)
		}
	case AskingToJoin:
		if !m.firstAttempt.IsZero() && now.Sub(m.firstAttempt) > JoinCeiling {
			return m.Abort(Timeout, TimeoutMessage)
		}
	}
	return nil
}
