package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice/internal/api"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voices"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	journalPruneInterval = time.Hour
	recentRequestsLimit  = 50
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	ttsService  *tts.Service
	journal     *journal.Store
	addr        atomic.Value
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr is the address the HTTP server listens on, empty until it is ready.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// Start loads the voice, serves HTTP (and the bus, when enabled) and blocks
// until ctx is cancelled. Any startup failure is returned before the server
// accepts connections.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	model, voice, err := r.loadVoice(ctx)
	if err != nil {
		return err
	}
	defaults := tts.DefaultParams(r.cfg.Synthesis)
	timeout := time.Duration(r.cfg.Voice.RequestTimeoutMS) * time.Millisecond

	if r.cfg.Journal.Enabled {
		js, err := journal.Open(ctx, r.cfg.Journal, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		r.journal = js
		defer r.closeJournal()
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, voice, defaults, timeout); err != nil {
			return err
		}
		defer r.stopBus()
	}

	opts := api.Options{
		Voice:          voice,
		Defaults:       defaults,
		Model:          model,
		RequestTimeout: timeout,
		MaxBodyBytes:   r.cfg.HTTP.MaxBodyBytes,
		Logger:         r.logger,
	}
	if r.journal != nil {
		opts.Journal = r.journal
	}
	handler, err := api.NewHandler(opts)
	if err != nil {
		return fmt.Errorf("failed to create api handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	if r.journal != nil {
		mux.HandleFunc("GET /debug/requests", r.handleRecent)
	}
	handler.Register(mux, func(route string, next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "synthesize "+route)
	})

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if r.journal != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.journal.RunPruner(ctx, journalPruneInterval)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.addr.Store(ln.Addr().String())
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", ln.Addr().String()),
		slog.String("voice", model.Name),
		slog.Int("sample_rate", voice.SampleRate()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	return nil
}

func (r *Runtime) loadVoice(ctx context.Context) (voices.Model, tts.Voice, error) {
	var model voices.Model
	if r.cfg.Voice.Mode != "mock" || r.cfg.Voice.Model != "" {
		resolved, err := voices.Resolve(ctx, r.cfg.Voice, r.logger)
		if err != nil {
			return voices.Model{}, nil, fmt.Errorf("failed to resolve voice: %w", err)
		}
		model = resolved
	}
	voice, err := tts.Load(r.cfg.Voice, model)
	if err != nil {
		return voices.Model{}, nil, fmt.Errorf("failed to load voice: %w", err)
	}
	return model, voice, nil
}

func (r *Runtime) startBus(ctx context.Context, voice tts.Voice, defaults tts.Params, timeout time.Duration) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded nats: %w", err)
	}
	r.natsServer = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		r.stopBus()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = client

	r.ttsService = tts.NewService(ctx, client, voice, defaults, timeout, r.logger)
	if err := r.ttsService.Start(); err != nil {
		r.stopBus()
		return fmt.Errorf("failed to start tts service: %w", err)
	}
	return nil
}

func (r *Runtime) stopBus() {
	if r.ttsService != nil {
		r.ttsService.Close()
		r.ttsService = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	r.natsServer.Shutdown()
	r.natsServer = nil
}

func (r *Runtime) closeJournal() {
	if err := r.journal.Close(); err != nil {
		r.logger.Error("journal close error", slog.String("error", err.Error()))
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

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleRecent lists the newest journal entries; ?limit= caps the count.
func (r *Runtime) handleRecent(w http.ResponseWriter, req *http.Request) {
	limit := recentRequestsLimit
	if v, err := strconv.Atoi(req.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	entries, err := r.journal.Recent(req.Context(), limit)
	if err != nil {
		r.logger.Error("journal query failed", slog.String("error", err.Error()))
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		r.logger.Warn("failed to write journal entries", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := r.ready.Load()
	if ready && r.ttsService != nil {
		ready = r.busClient.Healthy() && r.ttsService.Healthy()
	}
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
