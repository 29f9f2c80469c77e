// Package app wires configuration, logging, transport and the session into
// a running dedicated server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	nethttp "net/http"
	"net/netip"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kartsync/server/internal/banlist"
	"kartsync/server/internal/config"
	servernet "kartsync/server/internal/net"
	"kartsync/server/internal/netgame"
	"kartsync/server/internal/observability"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/transport"
	"kartsync/server/internal/world"
	"kartsync/server/logging"
	loggingSinks "kartsync/server/logging/sinks"
)

const shutdownGrace = 5 * time.Second

type Config struct {
	// ConfigPath is an optional TOML file.
	ConfigPath string
	Logger     telemetry.Logger
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}
	fileCfg.ApplyEnv(cfg.LookupEnv, telemetryLogger)
	if err := fileCfg.Validate(); err != nil {
		return err
	}

	router, err := newRouter(fileCfg, fallbackLogger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	bans := banlist.New(time.Now)
	if fileCfg.BanFile != "" {
		malformed, err := bans.LoadFile(fileCfg.BanFile)
		switch {
		case err != nil:
			telemetryLogger.Printf("ban list %s: %v", fileCfg.BanFile, err)
		case malformed > 0:
			telemetryLogger.Printf("ban list %s: skipped %d malformed lines", fileCfg.BanFile, malformed)
		}
	}

	tr, ws, err := openTransport(fileCfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	game := world.New(world.DefaultConfig(), nil)
	serverCfg, err := ServerConfig(fileCfg)
	if err != nil {
		return err
	}
	serverCfg.Transport = tr
	serverCfg.Game = game
	serverCfg.Bots = world.Bots{}
	serverCfg.Bans = bans
	serverCfg.Logger = telemetryLogger
	serverCfg.Metrics = telemetry.WrapMetrics(router.Metrics())

	srv, err := netgame.NewServer(serverCfg, router)
	if err != nil {
		return fmt.Errorf("failed to construct session: %w", err)
	}
	reg := srv.Registry()
	game.SetRoster(func(p int) bool { return reg.Player(p).InGame })
	for i := 0; i < fileCfg.Bots; i++ {
		if _, err := srv.AddBot(fmt.Sprintf("Bot %d", i+1)); err != nil {
			return err
		}
	}

	board := &servernet.StatusBoard{}
	g, gctx := errgroup.WithContext(ctx)

	if fileCfg.HTTP != "" {
		var wsHandler nethttp.Handler
		if ws != nil {
			wsHandler = ws
		}
		handler := servernet.NewHTTPHandler(servernet.HTTPHandlerConfig{
			Logger:        telemetryLogger,
			Status:        board,
			Telemetry:     router.Metrics().Snapshot,
			WebSocket:     wsHandler,
			Observability: observability.Config{EnablePprof: fileCfg.Pprof},
		})
		httpSrv := &nethttp.Server{Addr: fileCfg.HTTP, Handler: handler}
		g.Go(func() error {
			telemetryLogger.Printf("http listening on %s", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, nethttp.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if fileCfg.Transport == "udp" {
			telemetryLogger.Printf("session listening on udp %s", fileCfg.Listen)
		}
		return runSession(gctx, srv, board, time.Second/tics.Rate)
	})

	err = g.Wait()
	if fileCfg.BanFile != "" {
		if serr := bans.SaveFile(fileCfg.BanFile); serr != nil {
			telemetryLogger.Printf("failed to save ban list: %v", serr)
		}
	}
	return err
}

func newRouter(cfg config.Config, fallback *log.Logger) (*logging.Router, error) {
	logConfig := cfg.Logging()
	sinks := map[string]logging.Sink{
		logging.SinkConsole: loggingSinks.NewConsole(os.Stdout),
	}
	if logConfig.HasSink(logging.SinkJSON) {
		// The sink closes what it writes to; stdout stays open.
		var out io.Writer = struct{ io.Writer }{os.Stdout}
		if logConfig.JSON.FilePath != "" {
			f, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open json log: %w", err)
			}
			out = f
		}
		sinks[logging.SinkJSON] = loggingSinks.NewJSON(out, logConfig.JSON.FlushInterval)
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, fallback, sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	return router, nil
}

// openTransport returns the session transport and, for websockets, the
// same value as an HTTP handler.
func openTransport(cfg config.Config) (transport.Transport, *transport.WebSocket, error) {
	if cfg.Transport == "websocket" {
		ws := transport.NewWebSocket()
		return ws, ws, nil
	}
	udp, err := transport.ListenUDP(cfg.Listen)
	if err != nil {
		return nil, nil, err
	}
	return udp, nil, nil
}

// ServerConfig converts the file configuration into session settings. The
// transport, game and collaborators are left for the caller.
func ServerConfig(cfg config.Config) (netgame.ServerConfig, error) {
	out := netgame.DefaultServerConfig()
	out.Name = cfg.ServerName
	out.Admission.MaxConnections = cfg.MaxConnections
	out.Admission.AllowJoin = cfg.AllowJoin
	out.Admission.AllowGuests = cfg.AllowGuests
	out.Admission.JoinDelay = cfg.JoinDelay
	out.Admission.PerAddressInterval = cfg.JoinInterval()
	out.Admission.PerAddressBurst = cfg.JoinBurst
	out.ResyncAttempts = cfg.ResyncAttempts
	out.KickTime = time.Duration(cfg.KickTime) * time.Minute
	out.MaxPing = tics.Tic(cfg.MaxPing)
	out.PingTimeout = cfg.PingTimeout
	out.MinDelay = cfg.MinDelay
	out.NetTimeout = tics.Tic(cfg.NetTimeout)
	out.JoinTimeout = tics.Tic(cfg.JoinTimeout)
	out.SoftPacketMax = cfg.SoftPacketMax
	out.ExtraTics = tics.Tic(cfg.ExtraTics)
	out.AdminKeys = append([]string(nil), cfg.AdminKeys...)
	out.BanFile = cfg.BanFile
	if cfg.PublicIP != "" {
		ip, err := netip.ParseAddr(cfg.PublicIP)
		if err != nil {
			return out, fmt.Errorf("%w: public_ip: %v", config.ErrInvalid, err)
		}
		out.ServerIP = ip.Unmap()
	}
	return out, nil
}
