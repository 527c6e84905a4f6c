// sandboxd is the cmux sandbox multiplexer: it creates isolated Linux
// sandboxes, multiplexes PTY sessions into them, proxies workspace-routed
// traffic, and serves git branch/diff views of each sandbox's workspace.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmux/sandboxd/internal/config"
	"github.com/cmux/sandboxd/internal/errorreport"
	"github.com/cmux/sandboxd/internal/gitcache"
	"github.com/cmux/sandboxd/internal/idle"
	"github.com/cmux/sandboxd/internal/logging"
	"github.com/cmux/sandboxd/internal/proxy"
	"github.com/cmux/sandboxd/internal/pty"
	"github.com/cmux/sandboxd/internal/sandbox"
	"github.com/cmux/sandboxd/internal/server"
)

func main() {
	logger := logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	sandboxes, err := sandbox.NewManager(sandbox.Config{
		WorkspaceRoot: cfg.SandboxRoot,
		IPPoolBase:    net.ParseIP(cfg.IPPoolBaseCIDR),
		BwrapBin:      cfg.IsolationBin,
		IPBin:         cfg.IPBin,
		NsenterBin:    cfg.NsenterBin,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize sandbox manager")
	}

	sessions := pty.NewManager(pty.ManagerConfig{
		DefaultShell: cfg.DefaultShell,
		DefaultRows:  cfg.DefaultRows,
		DefaultCols:  cfg.DefaultCols,
		Backend:      cfg.Backend,
		BacklogCapB:  cfg.BacklogCap,
	})

	gitCache := gitcache.New(cfg.GitCacheRoot)

	reporter := errorreport.New(errorSinkPath(), errorreport.Config{
		FlushInterval: 30 * time.Second,
		MaxBatchSize:  10,
		MaxQueueSize:  100,
	})

	reaper := &idle.Reaper{
		Interval:         cfg.HeartbeatInterval,
		MaxIdle:          cfg.IdleTimeout,
		CleanupSessions:  sessions.CleanupIdle,
		CleanupSandboxes: sandboxes.CleanupIdle,
	}

	defaultUpstream := ""
	if cfg.ProxyAllowDefault {
		defaultUpstream = cfg.ProxyDefaultUpstream
	}
	proxyRouter := proxy.New(proxy.Config{
		DefaultUpstream: defaultUpstream,
	})

	srv := server.New(cfg, sandboxes, sessions, gitCache, reaper, reporter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		return srv.Start()
	})

	if cfg.ProxyListenAddr != "" {
		proxySrv := &proxyServer{addr: cfg.ProxyListenAddr, router: proxyRouter}
		g.Go(func() error {
			return proxySrv.start()
		})
		g.Go(func() error {
			<-ctx.Done()
			return proxySrv.stop(context.Background())
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down sandboxd")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("sandboxd exited with error")
	}
	logger.Info().Msg("sandboxd stopped")
}

func errorSinkPath() string {
	if p := os.Getenv("CMUX_ERROR_SINK_PATH"); p != "" {
		return p
	}
	return "/tmp/cmux-sandboxd-errors.jsonl"
}
