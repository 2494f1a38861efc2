// Package main provides the local sync server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/noorsync/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/noorsync/backend/internal/app"
	"github.com/kimhsiao/noorsync/backend/internal/config"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/sync/scheduler"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "noorsync-desktop",
		Short:        "Local sync server for the desktop app",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default ./noorsync.yaml or $HOME/.noorsync/noorsync.yaml)")
	return cmd
}

// serve runs the server until ctx is cancelled.
func serve(ctx context.Context, configFile string) error {
	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	logOpts, err := cfg.Log.LoggingOptions()
	if err != nil {
		return err
	}
	if err := logging.Configure(logOpts); err != nil {
		return err
	}

	loader.Watch(func(next *config.Config) {
		if level, err := logging.ParseLevel(next.Log.Level); err == nil {
			logging.Get().SetLevel(level)
		}
	})

	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := NewWSHub()
	defer hub.Close()
	unsubscribe := a.Engine.OnSyncComplete(hub.BroadcastSyncResult)
	defer unsubscribe()

	sched := scheduler.NewScheduler(a.Engine, a.SchedulerConfig())
	sched.Start(ctx)
	defer sched.Stop()

	go watchConnectivity(ctx, a.Remote, sched, cfg.Scheduler.CheckInterval)

	server := &http.Server{
		Addr:              cfg.Desktop.Addr,
		Handler:           newRouter(a, hub, sched),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop sync server starting", map[string]interface{}{
			"addr":     cfg.Desktop.Addr,
			"data_dir": cfg.DataDir,
			"config":   loader.ConfigFile(),
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logging.Info("Desktop sync server shutting down", nil)
	return server.Shutdown(shutdownCtx)
}

// newRouter registers every route of the desktop server.
func newRouter(a *app.App, hub *WSHub, sched *scheduler.Scheduler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"noorsync-desktop"}`))
	})

	syncHandler := handlers.NewSyncHandler(a.Engine, a.Config.Sync.MaxAge)
	syncHandler.SetWebSocketHub(hub)
	if sched != nil {
		syncHandler.SetScheduler(sched)
	}
	syncHandler.Register(mux)

	handlers.NewContentHandler(a.Repo, a.Engine.ContentTypes()).Register(mux)

	mux.HandleFunc("GET /ws", HandleWebSocket(hub))

	return mux
}

// Pinger probes the sync server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OnlineSetter receives connectivity changes.
type OnlineSetter interface {
	SetOnlineStatus(isOnline bool)
}

// watchConnectivity pings the server every interval and reports the result.
func watchConnectivity(ctx context.Context, p Pinger, s OnlineSetter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.SetOnlineStatus(p.Ping(ctx) == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
