package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ajadi/boxdns/config"
	"github.com/ajadi/boxdns/httpapi"
	"github.com/ajadi/boxdns/middleware"
	"github.com/ajadi/boxdns/utils"
)

// settleDelay coalesces bursts of file events into one update.
const settleDelay = 500 * time.Millisecond

func newCmdServe(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API and keep the zones up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, opts.configPath)
		},
	}
}

func (a *app) serve(ctx context.Context, configPath string) error {
	api := httpapi.NewHTTPAPI(ctx, a.updater, a.backup, a.cfg.CustomRecordsFile())
	a.updater.OnUpdate = api.SSEHub.Broadcast

	router := api.Router(a.auth, promhttp.Handler())
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           middleware.RateLimiter(a.cfg.RateLimit, a.cfg.RateLimit)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{"addr": a.cfg.HTTPAddr}).Info("HTTP API started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	trigger := make(chan struct{}, 1)
	go a.watchFiles(ctx, configPath, trigger)
	go a.updateLoop(ctx, trigger)

	var err error
	select {
	case <-ctx.Done():
		logrus.Info("Shutdown signal received, terminating")
	case err = <-serverErr:
		logrus.WithFields(logrus.Fields{"error": err}).Error("HTTP API error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e := httpServer.Shutdown(shutdownCtx); e != nil {
		logrus.WithFields(logrus.Fields{"error": e}).Error("Error shutting down HTTP server")
	}
	logrus.Info("boxdns shut down")
	return err
}

// updateLoop runs an update at startup, on every trigger and every
// UpdateInterval so signatures are renewed before they expire.
func (a *app) updateLoop(ctx context.Context, trigger <-chan struct{}) {
	var tick <-chan time.Time
	if a.cfg.UpdateInterval > 0 {
		ticker := time.NewTicker(a.cfg.UpdateInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	a.runUpdate(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			a.runUpdate(ctx, "interval")
		case <-trigger:
			select {
			case <-time.After(settleDelay):
			case <-ctx.Done():
				return
			}
			a.runUpdate(ctx, "file change")
		}
	}
}

func (a *app) runUpdate(ctx context.Context, reason string) {
	res, err := a.updater.Run(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{"reason": reason, "error": err}).Error("DNS update failed")
			utils.CaptureError(err)
		}
		return
	}
	if res.Changed() {
		logrus.WithFields(logrus.Fields{"reason": reason, "updated": res.Updated}).Info("DNS updated")
	}
}

// watchFiles triggers an update when the custom records or the mail user
// database change, and reapplies the log level when the box configuration
// changes.
func (a *app) watchFiles(ctx context.Context, configPath string, trigger chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Error("Failed to create file watcher")
		return
	}
	defer watcher.Close()

	if configPath == "" {
		configPath = os.Getenv("BOX_CONFIG")
	}
	if configPath == "" {
		configPath = config.DefaultConfigFile
	}

	triggers := map[string]bool{filepath.Clean(a.cfg.CustomRecordsFile()): true}
	if a.cfg.DBType == "sqlite" {
		triggers[filepath.Clean(a.cfg.DatabaseURL)] = true
	}
	dirs := map[string]bool{}
	for path := range triggers {
		dirs[filepath.Dir(path)] = true
	}
	dirs[filepath.Dir(configPath)] = true
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logrus.WithFields(logrus.Fields{"dir": dir, "error": err}).Warn("Not watching directory")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			switch {
			case triggers[name]:
				logrus.WithFields(logrus.Fields{"file": name}).Debug("Watched file changed")
				select {
				case trigger <- struct{}{}:
				default:
				}
			case name == filepath.Clean(configPath):
				env, err := godotenv.Read(configPath)
				if err != nil {
					logrus.WithFields(logrus.Fields{"error": err}).Warn("Error reading changed configuration")
					continue
				}
				if level := env["LOG_LEVEL"]; level != "" {
					logrus.WithFields(logrus.Fields{"level": level}).Info("Configuration changed, applying log level")
					applyLogLevel(level)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithFields(logrus.Fields{"error": err}).Error("File watcher error")
		}
	}
}
