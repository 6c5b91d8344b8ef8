package session

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"

	"sabr-processor/internal/platform/metrics"
	"sabr-processor/internal/sabr"
)

const (
	protobufContentType = "application/x-protobuf"

	// DefaultMaxChunkBytes bounds one chunk upload, before and after
	// decompression.
	DefaultMaxChunkBytes = 8 << 20
)

var errChunkTooLarge = errors.New("chunk exceeds size limit")

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	svc           *Service
	log           *slog.Logger
	metrics       *metrics.Metrics
	maxChunkBytes int64
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests). If
// maxChunkBytes <= 0, DefaultMaxChunkBytes is used.
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, maxChunkBytes int) *Handler {
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	return &Handler{svc: svc, log: log, metrics: m, maxChunkBytes: int64(maxChunkBytes)}
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/chunks", h.FeedChunk)
		r.Get("/abr-state", h.GetAbrState)
		r.Put("/abr-state", h.PutAbrState)
		r.Post("/end", h.EndSession)
	})
}

type createSessionResponse struct {
	SessionID SessionID `json:"session_id"`
}

type feedResponse struct {
	Parts       []PartView  `json:"parts"`
	Errors      []ErrorView `json:"errors"`
	ServerError *ErrorView  `json:"server_error,omitempty"`
}

type errorResponse struct {
	Error ErrorView  `json:"error"`
	Parts []PartView `json:"parts,omitempty"`
}

// CreateSession handles POST /sessions.
// Body (optional): { "live_segment_tolerance_ms": 100 }.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var opts Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid session body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id, err := h.svc.CreateSession(opts)
	if err != nil {
		h.log.Error("create session failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("session created", slog.String("session_id", string(id)))
	if h.metrics != nil {
		h.metrics.IncSessionsCreated()
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	st, err := h.svc.Status(id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// FeedChunk handles POST /sessions/{session_id}/chunks. The body is the next
// slice of a SABR response, optionally compressed with Content-Encoding br
// or gzip.
func (h *Handler) FeedChunk(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	chunk, err := h.readChunk(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr), errors.Is(err, errChunkTooLarge):
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		default:
			h.log.Debug("unreadable chunk body",
				slog.String("session_id", string(id)),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}

	res, err := h.svc.Feed(id, chunk)
	h.observeFeed(len(chunk), res, err)
	if err != nil {
		var malformed *sabr.MalformedMessageError
		if errors.As(err, &malformed) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error: NewErrorView(err),
				Parts: NewPartViews(res.Parts),
			})
			return
		}
		h.writeSessionError(w, id, err)
		return
	}

	out := feedResponse{
		Parts:  NewPartViews(res.Parts),
		Errors: NewErrorViews(res.Errors),
	}
	if res.ServerError != nil {
		v := NewErrorView(res.ServerError)
		out.ServerError = &v
		if h.metrics != nil {
			h.metrics.IncSessionsEnded()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAbrState handles GET /sessions/{session_id}/abr-state. With
// ?format=proto the state is returned as the encoded poll request body.
func (h *Handler) GetAbrState(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	if r.URL.Query().Get("format") == "proto" {
		body, err := h.svc.EncodedAbrState(id)
		if err != nil {
			h.writeSessionError(w, id, err)
			return
		}
		w.Header().Set("Content-Type", protobufContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	state, err := h.svc.AbrState(id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PutAbrState handles PUT /sessions/{session_id}/abr-state. The body is a
// JSON ClientAbrState, or an encoded poll request body when Content-Type is
// application/x-protobuf.
func (h *Handler) PutAbrState(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	var state sabr.ClientAbrState
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxChunkBytes))
	if err == nil {
		if strings.HasPrefix(r.Header.Get("Content-Type"), protobufContentType) {
			state, err = sabr.DecodeRequestBody(body)
		} else {
			err = json.Unmarshal(body, &state)
		}
	}
	if err != nil {
		h.log.Debug("invalid abr state body",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.SetAbrState(id, state); err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndSession handles POST /sessions/{session_id}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	ended, err := h.svc.EndSession(id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	if !ended {
		return
	}
	h.log.Info("session ended", slog.String("session_id", string(id)))
	if h.metrics != nil {
		h.metrics.IncSessionsEnded()
	}
}

// readChunk returns the decompressed request body, bounded by maxChunkBytes
// on both sides of decompression.
func (h *Handler) readChunk(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxChunkBytes)

	var src io.Reader
	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		src = body
	case "br":
		src = brotli.NewReader(body)
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		src = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}

	chunk, err := io.ReadAll(io.LimitReader(src, h.maxChunkBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(chunk)) > h.maxChunkBytes {
		return nil, errChunkTooLarge
	}
	return chunk, nil
}

func (h *Handler) observeFeed(n int, res FeedResult, err error) {
	if h.metrics == nil {
		return
	}
	h.metrics.AddBytesIngested(n)
	for _, p := range res.Parts {
		h.metrics.IncParts(p.Kind())
	}
	for _, e := range res.Errors {
		h.metrics.IncStreamErrors(NewErrorView(e).Type)
	}
	if res.ServerError != nil {
		h.metrics.IncServerErrors()
	}
	var malformed *sabr.MalformedMessageError
	if errors.As(err, &malformed) {
		h.metrics.IncStreamErrors("malformed")
	}
}

func (h *Handler) writeSessionError(w http.ResponseWriter, id SessionID, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrSessionEnded):
		h.log.Info("request rejected session ended", slog.String("session_id", string(id)))
		w.WriteHeader(http.StatusConflict)
	default:
		h.log.Error("session request failed",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
