// Package api implements the PVN HTTP front end (spec §6): a thin
// net/http.ServeMux over PVNOrchestrator and PVNModel, following the
// teacher's health-check server shape (pkg/api/health.go) rather than its
// gRPC+mTLS transport — the production TLS/auth layer in front of this
// mux is the out-of-scope external collaborator (spec §1); this is the
// minimal interface surface the core exposes.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/apperr"
	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/metrics"
	"github.com/ethan-vanderheijden/pvn-project/pkg/orchestrator"
	"github.com/ethan-vanderheijden/pvn-project/pkg/pvnmodel"
	"github.com/ethan-vanderheijden/pvn-project/pkg/pvnvalidator"
)

// Server is the HTTP front end: POST/GET/DELETE on /v1/pvn, plus the
// health/ready/metrics endpoints every PVN process exposes.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	model        *pvnmodel.Model
	mux          *http.ServeMux
}

// NewServer wires a Server over an already-constructed Orchestrator/Model
// pair.
func NewServer(o *orchestrator.Orchestrator, model *pvnmodel.Model) *Server {
	mux := http.NewServeMux()
	s := &Server{orchestrator: o, model: model, mux: mux}

	mux.HandleFunc("/v1/pvn", s.handlePVNCollection)
	mux.HandleFunc("/v1/pvn/", s.handlePVNItem)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	return s
}

// Handler returns the HTTP handler for embedding in an outer server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server at addr until it errors or is shut down.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// createPVNRequest mirrors POST /v1/pvn's body (spec §6).
type createPVNRequest struct {
	ClientIP string                      `json:"client_ip"`
	PVN      pvnvalidator.RawDescription `json:"pvn"`
}

func (s *Server) handlePVNCollection(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer func() { timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method) }()

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r.Method)
		return
	}

	var req createPVNRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r.Method, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	id, err := s.orchestrator.Initialize(r.Context(), req.ClientIP, req.PVN)
	if err != nil {
		s.writeOrchestratorError(w, r.Method, err)
		return
	}

	metrics.APIRequestsTotal.WithLabelValues(r.Method, "200").Inc()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%d", id)
}

func (s *Server) handlePVNItem(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer func() { timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method) }()

	idStr := strings.TrimPrefix(r.URL.Path, "/v1/pvn/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, r.Method, http.StatusBadRequest, fmt.Sprintf("invalid pvn id: %s", idStr))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, id)
	case http.MethodDelete:
		s.handleDelete(w, r, id)
	default:
		writeMethodNotAllowed(w, r.Method)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id int64) {
	pvn, err := s.model.Get(id)
	if err != nil {
		s.writeOrchestratorError(w, r.Method, err)
		return
	}

	metrics.APIRequestsTotal.WithLabelValues(r.Method, "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(pvn)
}

// handleDelete returns 200 unconditionally (spec §6): a missing or already
// deleted PVN is not an error, and any other teardown error is logged.
// force is false here, matching the teardown default (spec §4.3) so a
// delete racing an in-flight Initialize doesn't preempt _start's own forced
// teardown on error.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.orchestrator.Teardown(r.Context(), id, false); err != nil && !apperr.Is(err, apperr.ErrNotFound) {
		log.Logger.Warn().Err(err).Int64("pvn_id", id).Msg("teardown on delete failed")
	}

	metrics.APIRequestsTotal.WithLabelValues(r.Method, "200").Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeOrchestratorError(w http.ResponseWriter, method string, err error) {
	switch {
	case apperr.Is(err, apperr.ErrValidation), apperr.Is(err, apperr.ErrDuplicateClient):
		writeError(w, method, http.StatusBadRequest, err.Error())
	case apperr.Is(err, apperr.ErrNotFound):
		writeError(w, method, http.StatusNotFound, err.Error())
	default:
		writeError(w, method, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, method string, status int, message string) {
	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, message)
}

func writeMethodNotAllowed(w http.ResponseWriter, method string) {
	writeError(w, method, http.StatusMethodNotAllowed, "method not allowed")
}
