package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/deribit-rpc/internal/notify"
	"github.com/rickgao/deribit-rpc/internal/rpc"
	"github.com/rickgao/deribit-rpc/internal/tape"
)

type sessionStatus interface {
	State() rpc.State
	Pending() int
	Subscriptions() []string
}

type pinger interface {
	Ping(ctx context.Context) error
}

// health reports the recorder's components. Any field may be nil.
type health struct {
	client sessionStatus
	db     pinger
	writer interface{ Stats() tape.Stats }
	buffer interface{ Stats() notify.BufferStats }
}

type componentStatus struct {
	Status string         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (h *health) check(ctx context.Context) healthResponse {
	resp := healthResponse{
		Status:     statusHealthy,
		Components: make(map[string]componentStatus),
	}
	worst := func(s string) {
		if s == statusUnhealthy || (s == statusDegraded && resp.Status == statusHealthy) {
			resp.Status = s
		}
	}

	if h.client != nil {
		state := h.client.State()
		cs := componentStatus{
			Status: statusHealthy,
			Detail: map[string]any{
				"state":         state.String(),
				"pending":       h.client.Pending(),
				"subscriptions": len(h.client.Subscriptions()),
			},
		}
		switch state {
		case rpc.StateAuthenticated:
		case rpc.StateConnecting, rpc.StateAuthPending:
			cs.Status = statusDegraded
		default:
			cs.Status = statusUnhealthy
		}
		resp.Components["rpc"] = cs
		worst(cs.Status)
	}

	if h.db != nil {
		cs := componentStatus{Status: statusHealthy}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := h.db.Ping(pingCtx); err != nil {
			cs.Status = statusUnhealthy
			cs.Error = err.Error()
		}
		cancel()
		resp.Components["database"] = cs
		worst(cs.Status)
	}

	if h.writer != nil || h.buffer != nil {
		cs := componentStatus{Status: statusHealthy, Detail: map[string]any{}}
		if h.writer != nil {
			st := h.writer.Stats()
			cs.Detail["inserts"] = st.Inserts
			cs.Detail["flushes"] = st.Flushes
			cs.Detail["errors"] = st.Errors
			cs.Detail["dropped"] = st.Dropped
			if st.Dropped > 0 {
				cs.Status = statusDegraded
			}
		}
		if h.buffer != nil {
			bs := h.buffer.Stats()
			cs.Detail["buffered"] = bs.Len
			cs.Detail["buffer_capacity"] = bs.Capacity
		}
		resp.Components["tape"] = cs
		worst(cs.Status)
	}

	return resp
}

func (h *health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// newRouter serves /health and the Prometheus registry at metricsPath.
func newRouter(h http.Handler, gatherer prometheus.Gatherer, metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/health", h)
	if gatherer != nil {
		r.Method(http.MethodGet, metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
