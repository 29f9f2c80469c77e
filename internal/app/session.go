package app

import (
	"context"
	"errors"
	"time"

	servernet "kartsync/server/internal/net"
	"kartsync/server/internal/netgame"
	"kartsync/server/internal/tics"
)

// runSession drives srv once per interval until ctx ends or the session
// shuts itself down. The status board is refreshed once a second.
func runSession(ctx context.Context, srv *netgame.Server, board *servernet.StatusBoard, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-ctx.Done():
			srv.Close()
			return nil
		case <-ticker.C:
		}
		if err := srv.NetUpdate(ctx); err != nil {
			return sessionEnd(err)
		}
		if err := srv.RunTics(ctx); err != nil {
			return sessionEnd(err)
		}
		if frame%tics.Rate == 0 {
			board.Publish(srv.Status())
		}
	}
}

func sessionEnd(err error) error {
	if errors.Is(err, netgame.ErrShutdown) {
		return nil
	}
	return err
}
