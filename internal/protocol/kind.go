package protocol

import "fmt"

// Kind tags the payload carried by a packet.
type Kind uint8

const (
	KindNone Kind = iota
	KindAskInfo
	KindServerInfo
	KindServerRefuse
	KindServerShutdown
	KindClientQuit
	KindNodeTimeout
	KindClientKey
	KindServerChallenge
	KindClientCmd
	KindClientMis
	KindClient2Cmd
	KindClient2Mis
	KindClient3Cmd
	KindClient3Mis
	KindClient4Cmd
	KindClient4Mis
	KindNodeKeepAlive
	KindNodeKeepAliveMis
	KindBasicKeepAlive
	KindServerTics
	KindServerConfig
	KindClientJoin
	KindPing
	KindWillResendGamestate
	KindCanReceiveGamestate
	KindReceivedGamestate
	KindSaveGameFragment
	KindChallengeAll
	KindResponseAll
	KindResultsAll
	KindTextCmd
	KindTextCmd2
	KindTextCmd3
	KindTextCmd4

	kindCount
)

var kindNames = [...]string{
	KindNone:                "none",
	KindAskInfo:             "ask_info",
	KindServerInfo:          "server_info",
	KindServerRefuse:        "server_refuse",
	KindServerShutdown:      "server_shutdown",
	KindClientQuit:          "client_quit",
	KindNodeTimeout:         "node_timeout",
	KindClientKey:           "client_key",
	KindServerChallenge:     "server_challenge",
	KindClientCmd:           "client_cmd",
	KindClientMis:           "client_mis",
	KindClient2Cmd:          "client2_cmd",
	KindClient2Mis:          "client2_mis",
	KindClient3Cmd:          "client3_cmd",
	KindClient3Mis:          "client3_mis",
	KindClient4Cmd:          "client4_cmd",
	KindClient4Mis:          "client4_mis",
	KindNodeKeepAlive:       "node_keepalive",
	KindNodeKeepAliveMis:    "node_keepalive_mis",
	KindBasicKeepAlive:      "basic_keepalive",
	KindServerTics:          "server_tics",
	KindServerConfig:        "server_config",
	KindClientJoin:          "client_join",
	KindPing:                "ping",
	KindWillResendGamestate: "will_resend_gamestate",
	KindCanReceiveGamestate: "can_receive_gamestate",
	KindReceivedGamestate:   "received_gamestate",
	KindSaveGameFragment:    "savegame_fragment",
	KindChallengeAll:        "challenge_all",
	KindResponseAll:         "response_all",
	KindResultsAll:          "results_all",
	KindTextCmd:             "textcmd",
	KindTextCmd2:            "textcmd2",
	KindTextCmd3:            "textcmd3",
	KindTextCmd4:            "textcmd4",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a known packet kind.
func (k Kind) Valid() bool {
	return k > KindNone && k < kindCount
}

// ClientCmdKind selects the command packet kind for the number of local
// players, flagging a missed server packet with the MIS variant.
func ClientCmdKind(splits int, missed bool) Kind {
	if splits < 1 {
		splits = 1
	}
	if splits > MaxSplitscreen {
		splits = MaxSplitscreen
	}
	kind := KindClientCmd + Kind(2*(splits-1))
	if missed {
		kind++
	}
	return kind
}

// IsClientCmd reports whether k carries client tic commands or keepalives.
func (k Kind) IsClientCmd() bool {
	return (k >= KindClientCmd && k <= KindClient4Mis) || k == KindNodeKeepAlive || k == KindNodeKeepAliveMis
}

// IsKeepAlive reports the command kinds that only carry tic counters.
func (k Kind) IsKeepAlive() bool {
	return k == KindNodeKeepAlive || k == KindNodeKeepAliveMis
}

// Missed reports the MIS variants, sent when the client noticed a gap in
// the server's tic stream.
func (k Kind) Missed() bool {
	switch k {
	case KindClientMis, KindClient2Mis, KindClient3Mis, KindClient4Mis, KindNodeKeepAliveMis:
		return true
	}
	return false
}

// Splits is the number of commands carried by a client command kind.
func (k Kind) Splits() int {
	if k >= KindClientCmd && k <= KindClient4Mis {
		return int(k-KindClientCmd)/2 + 1
	}
	return 0
}

// TextCmdKind returns the text command kind for a local split.
func TextCmdKind(split int) Kind {
	if split < 0 || split >= MaxSplitscreen {
		split = 0
	}
	return KindTextCmd + Kind(split)
}

// TextCmdSplit returns the split a text command kind belongs to, or -1.
func (k Kind) TextCmdSplit() int {
	if k >= KindTextCmd && k <= KindTextCmd4 {
		return int(k - KindTextCmd)
	}
	return -1
}
