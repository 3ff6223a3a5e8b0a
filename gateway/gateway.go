// Package gateway is the HTTP surface of the platform: telemetry ingestion,
// device status queries, and health. Every rejection carries its specific
// reason code so operators can tell a replay attack from a schema mismatch.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/health"
	"github.com/BIGmindz/chainbridge/ingest"
	"github.com/BIGmindz/chainbridge/telemetry"
)

// Gateway serves the ingestion and status endpoints.
type Gateway struct {
	addr    string
	service *ingest.Service
	monitor *health.Monitor
	logger  *slog.Logger
	server  *http.Server

	running         atomic.Bool
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
}

// New creates a gateway bound to addr, for example ":8080".
func New(addr string, service *ingest.Service, monitor *health.Monitor, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		addr:    addr,
		service: service,
		monitor: monitor,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without a listening socket.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest/telemetry", g.withRequestID(g.handleIngest))
	mux.HandleFunc("GET /device/{device_id}/status", g.withRequestID(g.handleDeviceStatus))
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	return mux
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (g *Gateway) Start() error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start", "start listener")
	}

	g.server = &http.Server{
		Addr:              g.addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("gateway listening", "addr", g.addr)

	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapTransient(err, "Gateway", "Start", "serve HTTP")
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// Requests returns total, success, and failure counts.
func (g *Gateway) Requests() (total, success, failed uint64) {
	return g.requestsTotal.Load(), g.requestsSuccess.Load(), g.requestsFailed.Load()
}

// withRequestID propagates or generates an X-Request-ID for tracing.
func (g *Gateway) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			b := make([]byte, 8)
			if _, err := rand.Read(b); err != nil {
				requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
			} else {
				requestID = hex.EncodeToString(b)
			}
		}
		w.Header().Set("X-Request-ID", requestID)
		g.requestsTotal.Add(1)
		next(w, r)
	}
}

type ingestResponse struct {
	Accepted            bool           `json:"accepted"`
	MilestonesGenerated int            `json:"milestones_generated"`
	OCPayload           map[string]any `json:"oc_payload"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *Gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req telemetry.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "SCHEMA_VIOLATION", "request body is not valid JSON")
		return
	}

	receipt, err := g.service.Ingest(r.Context(), &req)
	if err != nil {
		g.writeError(w, rejectionStatus(err), errors.ReasonCode(err), err.Error())
		return
	}

	g.requestsSuccess.Add(1)
	g.writeJSON(w, http.StatusAccepted, ingestResponse{
		Accepted:            receipt.Accepted,
		MilestonesGenerated: receipt.MilestonesGenerated,
		OCPayload:           receipt.OCPayload,
	})
}

func (g *Gateway) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	status, err := g.service.Status(deviceID)
	if err != nil {
		g.writeError(w, http.StatusNotFound, errors.ReasonCode(err), err.Error())
		return
	}

	g.requestsSuccess.Add(1)
	g.writeJSON(w, http.StatusOK, status)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := g.monitor.AggregateHealth("chainbridge")
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

// rejectionStatus maps the rejection taxonomy to HTTP: unknown device 401,
// bad signature 403, replay 409, schema 400.
func rejectionStatus(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrUnknownDevice):
		return http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrSignatureInvalid):
		return http.StatusForbidden
	case stderrors.Is(err, errors.ErrReplayDetected):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, code int, reason, message string) {
	g.requestsFailed.Add(1)
	g.writeJSON(w, code, errorResponse{Error: reason, Message: message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("response encoding failed", "error", err)
	}
}
