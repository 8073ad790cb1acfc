// Package server wires the replay engine, its observers and the admin API
// into one service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/replaytap/internal/capture"
	"github.com/funnyzak/replaytap/internal/command"
	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/eventlog"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/internal/netconn"
	"github.com/funnyzak/replaytap/internal/notifier"
	"github.com/funnyzak/replaytap/internal/printer"
	"github.com/funnyzak/replaytap/internal/replay"
	"github.com/funnyzak/replaytap/internal/storage"
	"github.com/funnyzak/replaytap/internal/web"
)

const (
	shutdownTimeout = 30 * time.Second
	pollInterval    = 50 * time.Millisecond
)

// Server owns every long-lived component.
type Server struct {
	config   *config.Config
	logger   logger.Logger
	events   *eventlog.Store
	store    storage.Store
	commands *command.Registry
	playback *replay.ClientPlayback
	notifier *notifier.Notifier
	web      *web.Service
	httpSrv  *http.Server
}

// New builds a server. Engine log lines go to base and to the event store.
func New(cfg *config.Config, base logger.Logger) (*Server, error) {
	events := eventlog.NewStore(cfg.Events.MaxEntries)
	log := logger.Tee(events, base)

	mode, err := config.ParseMode(cfg.Replay.Mode)
	if err != nil {
		return nil, err
	}
	limit, err := cfg.Replay.BodySizeLimitBytes()
	if err != nil {
		return nil, err
	}
	dialer, err := netconn.FromConfig(cfg.Replay)
	if err != nil {
		return nil, fmt.Errorf("configure tls: %w", err)
	}
	rules, err := hooks.NewRules(cfg.Hooks.Rules, log)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if cfg.Storage.Path != "" {
		if store, err = storage.New(&cfg.Storage, log); err != nil {
			return nil, fmt.Errorf("open capture database: %w", err)
		}
	}

	registry := command.NewRegistry()
	webService := web.NewService(&cfg.API, web.Options{
		Commands: registry,
		Events:   events,
		History:  store,
	}, log)
	notify := notifier.New(log, notifier.FromConfig(cfg.Notify))

	// Rules run first so they can short-circuit before anything observes
	// the replay.
	channel := hooks.NewChannel(rules)
	if !cfg.Output.Silence {
		channel.Register(printer.NewHook(printer.New(log, &cfg.Output), log))
	}
	if store != nil {
		channel.Register(storage.NewHistory(store, log))
	}
	if notify.Enabled() {
		channel.Register(notify)
	}
	channel.Register(webService)

	playback := replay.New(replay.Options{
		Dialer:        dialer,
		Hooks:         channel,
		Reader:        capture.NewReader(log),
		Notifier:      webService,
		Mode:          mode,
		BodySizeLimit: limit,
	}, log)

	command.RegisterReplay(registry, playback, webService.Flows())
	command.RegisterEvents(registry, events)

	return &Server{
		config:   cfg,
		logger:   log,
		events:   events,
		store:    store,
		commands: registry,
		playback: playback,
		notifier: notify,
		web:      webService,
	}, nil
}

// Commands returns the command registry.
func (s *Server) Commands() *command.Registry { return s.commands }

// Playback returns the replay engine.
func (s *Server) Playback() *replay.ClientPlayback { return s.playback }

// Start runs the service until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run starts the worker and the admin API, loads the client_replay
// captures and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.seedFlows()
	s.playback.Start(workerCtx)
	if err := s.playback.Configure(s.config.Replay.ClientReplay); err != nil {
		cancel()
		s.playback.Wait()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.config.API.Enable {
		addr := net.JoinHostPort(s.config.API.Listen, strconv.Itoa(s.config.API.Port))
		s.httpSrv = &http.Server{
			Addr:        addr,
			Handler:     newRouter(s.web, s.logger),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		g.Go(func() error {
			s.logger.Info("Starting admin API", "addr", addr, "base_path", s.config.API.BasePath)
			if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("Admin API forced to shutdown", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down...")
		return nil
	})

	err := g.Wait()
	cancel()
	s.playback.Wait()
	return err
}

// RunOnce replays the captures at paths and returns once the queue is empty
// or ctx is cancelled.
func (s *Server) RunOnce(ctx context.Context, paths []string) (replay.Stats, error) {
	defer s.close()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.playback.Start(workerCtx)

	if err := s.playback.Configure(paths); err != nil {
		cancel()
		s.playback.Wait()
		return replay.Stats{}, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
wait:
	for s.playback.Count() > 0 {
		select {
		case <-ctx.Done():
			s.playback.StopReplay()
			break wait
		case <-ticker.C:
		}
	}

	cancel()
	s.playback.Wait()
	return s.playback.Stats(), ctx.Err()
}

// seedFlows makes the newest stored captures replayable by ID.
func (s *Server) seedFlows() {
	if s.store == nil {
		return
	}
	var skipped int
	err := s.store.Iterate(storage.ListOptions{}, func(item *storage.StoredFlow) bool {
		f, err := item.Record.Flow()
		if err != nil {
			skipped++
			return true
		}
		s.web.Flows().Put(f)
		return true
	})
	if err != nil {
		s.logger.Warn("Failed to load stored flows", "error", err)
		return
	}
	s.logger.Debug("Stored flows loaded", "flows", s.web.Flows().Len(), "skipped", skipped)
}

func (s *Server) close() {
	s.notifier.Close()
	s.web.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Failed to close capture database", "error", err)
		}
	}
	s.logger.Info("Server exited")
}
