package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/bulk"
	"github.com/whatsapp-automation/bulksender/internal/jobs"
)

// Browser is the session manager surface exposed over HTTP.
type Browser interface {
	Status(ctx context.Context) browser.Status
	CheckConnectivity(ctx context.Context) bool
	Refresh(ctx context.Context) (bool, error)
	Reinit(ctx context.Context) error
	PreserveSession(ctx context.Context) error
	ClearSession(ctx context.Context) error
}

// Sender sends a single message.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// Runner starts bulk jobs.
type Runner interface {
	Submit(req bulk.Request) (jobs.Record, error)
}

// Tracker exposes job records.
type Tracker interface {
	Get(id string) (jobs.Record, error)
	ActiveIDs() []string
	StopAll() int
}

// Options configure the HTTP API.
type Options struct {
	APIKey  string
	Version string
	// DefaultDelay is the pause in seconds used when /start omits delay.
	DefaultDelay float64
	// OperationTimeout bounds synchronous browser operations such as /refresh.
	OperationTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	opts    Options
	browser Browser
	sender  Sender
	runner  Runner
	tracker Tracker
	log     zerolog.Logger
	now     func() time.Time
}

// NewServer creates a new API server
func NewServer(opts Options, b Browser, sender Sender, runner Runner, tracker Tracker, log zerolog.Logger) *Server {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 5 * time.Minute
	}
	return &Server{
		opts:    opts,
		browser: b,
		sender:  sender,
		runner:  runner,
		tracker: tracker,
		log:     log,
		now:     time.Now,
	}
}

// Handler returns the router wrapped in the CORS and logging middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	s.RegisterRoutes(r)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return corsMiddleware(s.loggingMiddleware(r))
}

// RegisterRoutes registers HTTP routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	// Info
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/test", s.handleTest).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleSessionStatus).Methods(http.MethodGet)

	// Jobs
	r.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/status/{job_id}", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/callback", s.handleCallback).Methods(http.MethodPost)

	// Session
	r.HandleFunc("/send-message", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/reinit", s.handleReinit).Methods(http.MethodPost)
	r.HandleFunc("/preserve-session", s.handlePreserveSession).Methods(http.MethodPost)
	r.HandleFunc("/clear-session", s.handleClearSession).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// writeResult is the {status, message} shape used by the session endpoints.
func writeResult(w http.ResponseWriter, status int, message string) {
	result := "success"
	if status >= http.StatusBadRequest {
		result = "error"
	}
	writeJSON(w, status, map[string]interface{}{"status": result, "message": message})
}

// opContext detaches a browser operation from the client connection so a
// dropped request cannot leave the browser half restarted.
func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.OperationTimeout)
}
