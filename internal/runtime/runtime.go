package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-padel/internal/announcer"
	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/eventstore"
	"github.com/loqalabs/loqa-padel/internal/narration"
	"github.com/loqalabs/loqa-padel/internal/natsserver"
	"github.com/loqalabs/loqa-padel/internal/referee"
	"github.com/loqalabs/loqa-padel/internal/scoreboard"
	"github.com/loqalabs/loqa-padel/internal/voice"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	referee   *referee.Service
	hub       *scoreboard.Hub
	voice     *voice.Router
	announcer *announcer.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.closeTelemetry()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.stopComponents()
	r.wg.Wait()
	r.closeTelemetry()

	return nil
}

// startComponents brings up every component in dependency order.
func (r *Runtime) startComponents(ctx context.Context) error {
	if r.cfg.Bus.Enabled {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		r.nats = srv

		busCfg := r.cfg.Bus
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		r.bus = client
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	if r.cfg.EventStore.RetentionMode != "ephemeral" {
		r.wg.Add(1)
		go r.runRetention(ctx)
	}

	bundle, err := narration.LoadEmbedded()
	if err != nil {
		return err
	}
	narrator, err := narration.New(bundle, r.cfg.Narration.Locale, narration.Labels{
		Us:   r.cfg.Narration.TeamUs,
		Them: r.cfg.Narration.TeamThem,
	})
	if err != nil {
		return err
	}
	rules, err := r.cfg.Match.Rules()
	if err != nil {
		return err
	}
	dispatcher, err := referee.NewDispatcher(rules, narrator)
	if err != nil {
		return err
	}

	r.referee = referee.NewService(ctx, r.cfg.RuntimeName, dispatcher, r.bus, r.store, r.logger)
	r.hub = scoreboard.NewHub(r.referee.Scoreboard, r.cfg.HTTP.AllowedOrigins, r.logger)
	r.referee.OnUpdate(r.hub.Publish)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.hub.Run(ctx)
	}()
	if err := r.referee.Start(); err != nil {
		return fmt.Errorf("start referee: %w", err)
	}

	if r.cfg.Voice.Enabled && r.bus != nil {
		r.voice = voice.NewRouter(ctx, r.cfg.Voice, r.bus, r.logger)
		if err := r.voice.Start(); err != nil {
			return fmt.Errorf("start voice router: %w", err)
		}
	}

	if r.cfg.Announcer.Enabled && r.bus != nil {
		speaker, err := announcer.NewSpeaker(r.cfg.Announcer.Command, r.logger.With(slog.String("component", "announcer")))
		if err != nil {
			return err
		}
		r.announcer = announcer.NewService(ctx, r.cfg.Announcer, r.bus, speaker, r.logger)
		if err := r.announcer.Start(); err != nil {
			return fmt.Errorf("start announcer: %w", err)
		}
	}

	r.logger.Info("referee configured",
		slog.String("locale", narrator.Locale()),
		slog.String("rule66", string(rules.Rule66)),
		slog.String("deuce_mode", string(rules.DeuceMode)),
		slog.Bool("voice", r.voice != nil),
		slog.Bool("announcer", r.announcer != nil))
	return nil
}

func (r *Runtime) stopComponents() {
	if r.announcer != nil {
		r.announcer.Close()
	}
	if r.voice != nil {
		r.voice.Close()
	}
	if r.referee != nil {
		r.referee.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) runRetention(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.referee == nil || !r.referee.Healthy() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.announcer != nil && !r.announcer.Healthy() {
		return false
	}
	return r.voice == nil || r.voice.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
