package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/core/service"
	"signal-quota-service/internal/updates"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxUpdateBody bounds a single update payload.
const maxUpdateBody = 4 << 20

type handler struct {
	svc    ports.SignalService
	logger hclog.Logger
}

func newHandler(svc ports.SignalService, logger hclog.Logger) http.Handler {
	h := &handler{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/signals/update", h.update)
	mux.HandleFunc("GET /v1/signals", h.list)
	mux.HandleFunc("DELETE /v1/signals", h.deleteOwner)
	mux.HandleFunc("/join", h.join)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	pkg := r.URL.Query().Get("package")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	if err != nil {
		code := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), code)
		return
	}

	res, err := h.svc.ProcessUpdates(r.Context(), owner, pkg, raw)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, res)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	xs, err := h.svc.Signals(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if xs == nil {
		h.writeJSON(w, []struct{}{})
		return
	}
	h.writeJSON(w, xs)
}

func (h *handler) deleteOwner(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteOwner(r.Context(), r.URL.Query().Get("owner")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) join(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	remoteAddr := r.URL.Query().Get("addr")

	if nodeID == "" || remoteAddr == "" {
		http.Error(w, "missing node_id or addr", http.StatusBadRequest)
		return
	}

	if err := h.svc.Join(r.Context(), nodeID, remoteAddr); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("node joined", "node_id", nodeID, "addr", remoteAddr)
	w.Write([]byte("joined"))
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidOwner),
		errors.Is(err, updates.ErrMalformedUpdate),
		errors.Is(err, updates.ErrUnknownCommand),
		errors.Is(err, updates.ErrKeyCollision):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrNotLeader):
		code = http.StatusServiceUnavailable
	default:
		h.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), code)
}

func (h *handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}
