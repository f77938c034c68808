// Package api exposes the orchestrator over a local HTTP surface: streamed
// answers via SSE, scene analysis, and a status endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/optic-one/opticd/internal/cache"
	"github.com/optic-one/opticd/internal/history"
	"github.com/optic-one/opticd/internal/monitor"
	"github.com/optic-one/opticd/internal/orchestrator"
	"github.com/optic-one/opticd/internal/scheduler"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Asker is the orchestrator surface the handlers need.
type Asker interface {
	AskKind(ctx context.Context, kind scheduler.Kind, prompt string) (orchestrator.Reply, error)
	AnalyzeScene(ctx context.Context, imageRef string) (orchestrator.SceneResult, error)
	Metrics() orchestrator.Metrics
}

// Deps carries the components the API reports on. History may be nil.
type Deps struct {
	Orchestrator Asker
	Monitor      *monitor.Monitor
	Cache        *cache.Cache
	Scheduler    *scheduler.Scheduler
	History      *history.Store
}

// NewHandler returns the http.Handler for the opticd local API.
func NewHandler(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/ask", handleAsk(d.Orchestrator))
	r.Post("/v1/scene", handleScene(d.Orchestrator))
	r.Get("/v1/status", handleStatus(d))
	r.Get("/v1/history", handleHistory(d.History))
	r.Post("/v1/cache/clear", handleCacheClear(d.Cache))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type askRequest struct {
	Prompt string `json:"prompt"`
	Kind   string `json:"kind,omitempty"`
}

func handleAsk(o Asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
			return
		}

		kind := scheduler.KindText
		switch req.Kind {
		case "", "text":
		case "voice":
			kind = scheduler.KindVoice
		case "emergency":
			kind = scheduler.KindEmergency
		default:
			httpError(w, http.StatusBadRequest, "invalid_request", "unknown kind %q", req.Kind)
			return
		}

		reply, err := o.AskKind(r.Context(), kind, req.Prompt)
		if err != nil {
			status, errType := admissionStatus(err)
			httpError(w, status, errType, "%v", err)
			return
		}

		streamReply(w, reply)
	}
}

// streamReply forwards chunks as SSE events, ending with [DONE] on success
// or an error event on terminal failure.
func streamReply(w http.ResponseWriter, reply orchestrator.Reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		chunk, err := reply.Recv()
		if err == nil {
			payload, merr := json.Marshal(map[string]string{"chunk": chunk})
			if merr != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			continue
		}
		if err == io.EOF {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		payload, merr := json.Marshal(map[string]any{
			"error": map[string]string{"message": err.Error()},
		})
		if merr == nil {
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		return
	}
}

type sceneRequest struct {
	ImageRef string `json:"image_ref"`
}

func handleScene(o Asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req sceneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}
		if req.ImageRef == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "image_ref is required")
			return
		}

		result, err := o.AnalyzeScene(r.Context(), req.ImageRef)
		if err != nil {
			status, errType := admissionStatus(err)
			if status == http.StatusInternalServerError {
				status, errType = http.StatusBadGateway, "backend_error"
			}
			httpError(w, status, errType, "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

type statusResponse struct {
	Pressure  monitor.Snapshot     `json:"pressure"`
	Health    monitor.HealthReport `json:"health"`
	Cache     cache.Stats          `json:"cache"`
	Scheduler scheduler.Stats      `json:"scheduler"`
	Metrics   orchestrator.Metrics `json:"metrics"`
}

func handleStatus(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Pressure:  d.Monitor.Current(),
			Health:    d.Monitor.Health(),
			Cache:     d.Cache.Stats(),
			Scheduler: d.Scheduler.Stats(),
			Metrics:   d.Orchestrator.Metrics(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleHistory(h *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h == nil {
			httpError(w, http.StatusNotFound, "not_found", "history is disabled")
			return
		}
		outcomes, err := h.Recent(20)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading history: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"outcomes": outcomes})
	}
}

func handleCacheClear(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

// admissionStatus maps scheduler admission errors to HTTP status codes.
func admissionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, scheduler.ErrOverloaded):
		return http.StatusTooManyRequests, "overloaded"
	case errors.Is(err, scheduler.ErrResourceExhausted):
		return http.StatusServiceUnavailable, "resource_exhausted"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
