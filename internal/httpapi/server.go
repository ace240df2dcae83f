package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/config"
	"github.com/aathul-raj/hermes/internal/flow"
	"github.com/aathul-raj/hermes/internal/observability"
	"github.com/aathul-raj/hermes/internal/queue"
)

// Bridge runs one media-stream connection end to end.
type Bridge interface {
	Run(ctx context.Context, telIn <-chan any, telOut chan<- any) error
}

type Server struct {
	cfg       config.Config
	store     calllog.Store
	scheduler *queue.Scheduler
	bridge    Bridge
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, store calllog.Store, scheduler *queue.Scheduler, bridge Bridge, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		scheduler: scheduler,
		bridge:    bridge,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The media-stream peer is the telephony platform, not a
				// browser; it sends no Origin. Browser origins must match
				// the host unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/calls", s.handleCreateCall)
	r.Get("/api/calls/{id}", s.handleGetCall)
	r.Get("/media-stream", s.handleMediaStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": s.scheduler.Depth(),
	})
}

type createCallResponse struct {
	ID     string         `json:"id"`
	Status calllog.Status `json:"status"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var f flow.CallFlow
	if err := decodeJSON(r, &f); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := f.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_flow", err.Error())
		return
	}

	rec, err := s.store.Create(r.Context(), calllog.CallRecord{
		ToPhone: f.ToPhone,
		Topic:   f.Topic,
		Status:  calllog.StatusQueued,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failure", err.Error())
		return
	}

	f.RecordID = rec.ID
	s.scheduler.Enqueue(rec.ID, f)
	s.metrics.CallEvents.WithLabelValues("queued").Inc()

	respondJSON(w, http.StatusAccepted, createCallResponse{ID: rec.ID, Status: rec.Status})
}

type callStatusResponse struct {
	calllog.CallRecord
	Completed bool `json:"completed"`
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_failure", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, callStatusResponse{
		CallRecord: rec,
		Completed:  rec.Status == calllog.StatusCompleted,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
