package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/order-tracker/internal/broadcast"
	"github.com/rickgao/order-tracker/internal/ingest"
	"github.com/rickgao/order-tracker/internal/registry"
	"github.com/rickgao/order-tracker/internal/router"
	"github.com/rickgao/order-tracker/internal/version"
)

const (
	internalTokenHeader = "X-Internal-Token"
	maxPublishBody      = 4096
)

type publishRequest struct {
	Status string `json:"status"`
}

type publishResponse struct {
	OrderRef string `json:"orderRef"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string       `json:"status"`
	Database string       `json:"database,omitempty"`
	Build    version.Info `json:"build"`
}

type statsResponse struct {
	Registry      registry.Stats `json:"registry"`
	Subscriptions router.Stats   `json:"subscriptions"`
	Ingest        *ingest.Stats  `json:"ingest,omitempty"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedInternal(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	orderRef := r.PathValue("orderRef")
	var req publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"status\": \"...\"}"})
		return
	}

	err := s.deps.Publisher.PublishOrderStatusChanged(r.Context(), orderRef, req.Status)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, publishResponse{OrderRef: orderRef, Status: req.Status})
	case errors.Is(err, broadcast.ErrInvalidStatusChange):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("publish failed", "order_ref", orderRef, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "publish failed"})
	}
}

func (s *Server) authorizedInternal(r *http.Request) bool {
	if s.cfg.InternalToken == "" {
		return false
	}
	got := r.Header.Get(internalTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.InternalToken)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Build: version.Get()}
	status := http.StatusOK

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Registry:      s.deps.Registry.Stats(),
		Subscriptions: s.deps.Router.Stats(),
	}
	if s.deps.Ingest != nil {
		st := s.deps.Ingest.Stats()
		resp.Ingest = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON serialises payload as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
