// Package api is the HTTP surface of the platform: webhook ingress,
// governance controls, triage result retrieval, audit and feedback reads,
// and the Prometheus endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maniltns/AEGIS/internal/audit"
	"github.com/maniltns/AEGIS/internal/auth"
	"github.com/maniltns/AEGIS/internal/config"
	"github.com/maniltns/AEGIS/internal/feedback"
	"github.com/maniltns/AEGIS/internal/governance"
	"github.com/maniltns/AEGIS/internal/metrics"
	"github.com/maniltns/AEGIS/internal/pipeline"
	"github.com/maniltns/AEGIS/internal/queue"
	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/redact"
)

// Server carries the dependencies the handlers need.
type Server struct {
	cfg      *config.Config
	rdb      *redis.Client
	rag      *rag.Client
	queue    *queue.Driver
	gov      *governance.Store
	redactor *redact.Redactor
	results  *pipeline.Results
	audit    *audit.Log
	feedback *feedback.Store
	auth     *auth.Service
	metrics  *metrics.Metrics
	validate *validator.Validate
	log      *slog.Logger
}

func NewServer(
	cfg *config.Config,
	rdb *redis.Client,
	ragClient *rag.Client,
	q *queue.Driver,
	gov *governance.Store,
	redactor *redact.Redactor,
	results *pipeline.Results,
	auditLog *audit.Log,
	fb *feedback.Store,
	authSvc *auth.Service,
	m *metrics.Metrics,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		rdb:      rdb,
		rag:      ragClient,
		queue:    q,
		gov:      gov,
		redactor: redactor,
		results:  results,
		audit:    auditLog,
		feedback: fb,
		auth:     authSvc,
		metrics:  m,
		validate: validator.New(),
		log:      log.With("component", "api"),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth()).Methods("GET")
	r.HandleFunc("/status", s.handleStatus()).Methods("GET")

	r.HandleFunc("/webhook/incident", s.handleWebhookIncident()).Methods("POST")
	r.HandleFunc("/webhook/servicenow", s.handleWebhookServiceNow()).Methods("POST")
	r.HandleFunc("/triage/{triage_id}", s.handleGetTriage()).Methods("GET")

	r.HandleFunc("/auth/login", s.handleLogin()).Methods("POST")

	// Governance mutations require a bearer token from /auth/login.
	gov := r.NewRoute().Subrouter()
	gov.Use(s.auth.Middleware)
	gov.HandleFunc("/governance/killswitch", s.handleKillSwitch()).Methods("POST")
	gov.HandleFunc("/governance/mode", s.handleSetMode()).Methods("POST")
	gov.HandleFunc("/governance/thresholds", s.handleSetThresholds()).Methods("POST")
	gov.HandleFunc("/approve/{incident}", s.handleDecision("approved")).Methods("POST")
	gov.HandleFunc("/reject/{incident}", s.handleDecision("rejected")).Methods("POST")

	r.HandleFunc("/governance/thresholds", s.handleGetThresholds()).Methods("GET")

	r.HandleFunc("/audit/incident/{incident}", s.handleIncidentAudit()).Methods("GET")
	r.HandleFunc("/audit/killswitch", s.handleKillSwitchAudit()).Methods("GET")

	r.HandleFunc("/feedback/stats", s.handleFeedbackStats()).Methods("GET")
	// GET serves the one-click links embedded in Teams cards.
	r.HandleFunc("/feedback/{triage_id}", s.handleSubmitFeedback()).Methods("POST", "GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Use(corsMiddleware)
	r.Use(s.loggingMiddleware)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
