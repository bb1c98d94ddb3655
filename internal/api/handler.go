package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voices"
	"github.com/rs/xid"
)

const (
	RouteWAV    = "/"
	RouteStream = "/stream"
	RouteVoice  = "/voice"

	headerRequestID = "X-Request-Id"

	// statusClientClosed is journaled when the client leaves before the
	// response completes. It is never written to the wire.
	statusClientClosed = 499
)

// Recorder persists one entry per synthesis request.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

type Options struct {
	Voice          tts.Voice
	Defaults       tts.Params
	Model          voices.Model
	Journal        Recorder
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// Handler serves synthesis over HTTP: a finished WAV file on RouteWAV and
// a chunked raw PCM stream on RouteStream.
type Handler struct {
	voice    tts.Voice
	defaults tts.Params
	model    voices.Model
	journal  Recorder
	timeout  time.Duration
	maxBody  int64
	metrics  *instruments
	logger   *slog.Logger
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Voice == nil {
		return nil, errors.New("api handler requires a voice")
	}
	metrics, err := newInstruments()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		voice:    opts.Voice,
		defaults: opts.Defaults,
		model:    opts.Model,
		journal:  opts.Journal,
		timeout:  opts.RequestTimeout,
		maxBody:  opts.MaxBodyBytes,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "http-api")),
	}, nil
}

// Register adds the synthesis routes to mux. wrap, when set, decorates each
// route handler, e.g. with tracing.
func (h *Handler) Register(mux *http.ServeMux, wrap func(route string, next http.Handler) http.Handler) {
	routes := []struct {
		route string
		fn    http.HandlerFunc
	}{
		{RouteWAV, h.serveWAV},
		{RouteStream, h.serveStream},
		{RouteVoice, h.serveVoice},
	}
	for _, rt := range routes {
		var next http.Handler = rt.fn
		if wrap != nil {
			next = wrap(rt.route, next)
		}
		pattern := rt.route
		if pattern == RouteWAV {
			pattern = "/{$}"
		}
		mux.Handle(pattern, next)
	}
}

// exchange tracks one request from decode to the last byte.
type exchange struct {
	id      string
	route   string
	start   time.Time
	textLen int
	params  tts.Params
	bytes   int64
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request, route string) *exchange {
	id := xid.New().String()
	w.Header().Set(headerRequestID, id)
	if h.maxBody > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	return &exchange{id: id, route: route, start: time.Now()}
}

// prepare decodes and validates the request. On failure it has already
// answered the client.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, ex *exchange) (string, bool) {
	text, overrides, err := Decode(r)
	if errors.Is(err, errMethod) {
		w.Header().Set("Allow", "GET, POST")
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		h.finish(r.Context(), ex, http.StatusMethodNotAllowed, err)
		return "", false
	}
	if err == nil {
		text, err = tts.CleanText(text)
	}
	if err == nil {
		ex.params, err = tts.Resolve(h.defaults, overrides)
	}
	if err != nil {
		h.fail(w, r, ex, err)
		return "", false
	}
	ex.textLen = utf8.RuneCountInString(text)
	h.logger.Debug("synthesizing",
		slog.String("request_id", ex.id),
		slog.String("route", ex.route),
		slog.Int("text_length", ex.textLen),
		slog.Any("params", ex.params.Fields()))
	return text, true
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(r.Context(), h.timeout)
	}
	return context.WithCancel(r.Context())
}

func (h *Handler) serveWAV(w http.ResponseWriter, r *http.Request) {
	ex := h.begin(w, r, RouteWAV)
	text, ok := h.prepare(w, r, ex)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()

	wav, err := tts.BuildWAV(ctx, h.voice, text, ex.params)
	if err != nil {
		h.fail(w, r, ex, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		n, err := w.Write(wav)
		ex.bytes = int64(n)
		if err != nil {
			h.finish(r.Context(), ex, statusClientClosed, err)
			return
		}
	}
	h.finish(r.Context(), ex, http.StatusOK, nil)
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	ex := h.begin(w, r, RouteStream)
	text, ok := h.prepare(w, r, ex)
	if !ok {
		return
	}
	ctx, cancel := h.requestContext(r)
	defer cancel()

	stream, err := tts.OpenPCM(ctx, h.voice, text, ex.params)
	if err != nil {
		h.fail(w, r, ex, err)
		return
	}
	defer stream.Close()

	// pull the first chunk before committing to a status
	chunk, err := stream.Recv()
	if err != nil && err != io.EOF {
		h.fail(w, r, ex, err)
		return
	}

	w.Header().Set("Content-Type", tts.PCMContentType(h.voice.SampleRate()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		h.finish(r.Context(), ex, http.StatusOK, nil)
		return
	}
	flusher, _ := w.(http.Flusher)

	for err == nil {
		if len(chunk) > 0 {
			n, werr := w.Write(chunk)
			ex.bytes += int64(n)
			if werr != nil {
				h.finish(r.Context(), ex, statusClientClosed, werr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		chunk, err = stream.Recv()
	}
	if err != io.EOF {
		if r.Context().Err() != nil {
			h.finish(r.Context(), ex, statusClientClosed, err)
			return
		}
		h.finish(r.Context(), ex, http.StatusInternalServerError, err)
		// headers are out; only a broken connection tells the client
		panic(http.ErrAbortHandler)
	}
	h.finish(r.Context(), ex, http.StatusOK, nil)
}

// VoiceInfo describes the loaded voice and the server defaults.
type VoiceInfo struct {
	Name        string         `json:"name,omitempty"`
	SampleRate  int            `json:"sample_rate"`
	NumSpeakers int            `json:"num_speakers"`
	Speakers    []string       `json:"speakers,omitempty"`
	Defaults    map[string]any `json:"defaults"`
}

func (h *Handler) serveVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET")
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	numSpeakers := h.model.Config.NumSpeakers
	if numSpeakers == 0 {
		numSpeakers = 1
	}
	info := VoiceInfo{
		Name:        h.model.Name,
		SampleRate:  h.voice.SampleRate(),
		NumSpeakers: numSpeakers,
		Speakers:    h.model.Config.Speakers(),
		Defaults:    h.defaults.Fields(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		h.logger.Warn("failed to write voice info", slog.String("error", err.Error()))
	}
}

// fail maps err to a status and answers the client. Nothing may have been
// written yet.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, ex *exchange, err error) {
	status, msg := classifyError(err)
	if r.Context().Err() != nil {
		status = statusClientClosed
	} else {
		writeText(w, status, msg)
	}
	h.finish(r.Context(), ex, status, err)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, tts.ErrEmptyText):
		return http.StatusBadRequest, "No text provided"
	case errors.Is(err, tts.ErrDecode):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, tts.ErrBusy):
		return http.StatusServiceUnavailable, "Voice busy"
	default:
		return http.StatusInternalServerError, "Synthesis failed"
	}
}

func (h *Handler) finish(ctx context.Context, ex *exchange, status int, err error) {
	elapsed := time.Since(ex.start)
	ctx = context.WithoutCancel(ctx)

	attrs := []any{
		slog.String("request_id", ex.id),
		slog.String("route", ex.route),
		slog.Int("status", status),
		slog.Int64("bytes", ex.bytes),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	entry := journal.Entry{
		ID:         ex.id,
		Route:      ex.route,
		Status:     status,
		TextLength: ex.textLen,
		Params:     encodeParams(ex.params),
		Bytes:      ex.bytes,
		Duration:   elapsed,
	}
	switch {
	case err == nil:
		h.logger.Info("synthesis complete", attrs...)
	case status >= http.StatusInternalServerError:
		entry.Error = err.Error()
		h.logger.Error("synthesis failed", append(attrs, slog.String("error", err.Error()))...)
	default:
		entry.Error = err.Error()
		h.logger.Warn("synthesis request rejected", append(attrs, slog.String("error", err.Error()))...)
	}

	h.metrics.observe(ctx, ex.route, status, ex.bytes, elapsed)
	if h.journal != nil {
		if jerr := h.journal.Record(ctx, entry); jerr != nil {
			h.logger.Warn("failed to journal request", slog.String("request_id", ex.id), slog.String("error", jerr.Error()))
		}
	}
}

func encodeParams(p tts.Params) string {
	fields := p.Fields()
	if len(fields) == 0 {
		return ""
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
