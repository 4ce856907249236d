// Package api provides HTTP handlers and the main API server logic for PillMinder.
//
// It exposes RESTful endpoints for managing medications, driving the alarm,
// dispatching voice intents and recording health data. The API integrates with
// the reminder engine, intent dispatcher, store and GenAI modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/genai"
	"github.com/PillboxLabs/PillMinder/internal/intent"
	"github.com/PillboxLabs/PillMinder/internal/models"
	"github.com/PillboxLabs/PillMinder/internal/reminder"
	"github.com/PillboxLabs/PillMinder/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server configuration constants
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultReadHeaderTimeout bounds how long reading request headers may take
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// GenAIAnalyzer is the slice of the GenAI client the server needs. It is
// optional; when nil the analyze, scan and chat endpoints report 503.
type GenAIAnalyzer interface {
	AnalyzeIntent(ctx context.Context, transcript string) (models.Intent, error)
	AnalyzeMedicationLabel(ctx context.Context, base64Image string) (genai.LabelInfo, error)
	Chat(ctx context.Context, history []genai.ChatTurn, message string) (string, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
	GA   GenAIAnalyzer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGenAI attaches a GenAI client for transcript analysis, label scanning
// and companion chat.
func WithGenAI(ga GenAIAnalyzer) Option {
	return func(o *Opts) { o.GA = ga }
}

// Server hosts the PillMinder HTTP API.
type Server struct {
	engine     *reminder.Engine
	dispatcher *intent.Dispatcher
	st         store.Store
	ga         GenAIAnalyzer
	addr       string
	httpServer *http.Server
}

// NewServer assembles the API server around the reminder engine.
func NewServer(engine *reminder.Engine, dispatcher *intent.Dispatcher, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		engine:     engine,
		dispatcher: dispatcher,
		st:         st,
		ga:         cfg.GA,
		addr:       cfg.Addr,
	}
}

// Router builds the chi router with all API routes mounted under /api/v1.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/medications", func(r chi.Router) {
			r.Get("/", s.listMedicationsHandler)
			r.Post("/", s.addMedicationHandler)
			r.Get("/pending", s.pendingMedicationsHandler)
			r.Get("/history", s.historyHandler)
			r.Post("/scan", s.scanMedicationHandler)
			r.Get("/{id}", s.getMedicationHandler)
			r.Patch("/{id}", s.updateMedicationHandler)
			r.Delete("/{id}", s.deleteMedicationHandler)
			r.Post("/{id}/take", s.takeMedicationHandler)
		})

		r.Route("/alarm", func(r chi.Router) {
			r.Get("/", s.alarmStatusHandler)
			r.Post("/acknowledge", s.acknowledgeHandler)
			r.Post("/defer", s.deferHandler)
			r.Post("/snooze", s.snoozeHandler)
		})

		r.Post("/intents", s.intentHandler)
		r.Post("/intents/analyze", s.analyzeIntentHandler)
		r.Post("/chat", s.chatHandler)

		r.Get("/records", s.listRecordsHandler)
		r.Post("/records", s.addRecordHandler)

		r.Post("/reset", s.resetHandler)
	})

	return r
}

// Start begins serving the API. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	slog.Info("API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler provides a health check endpoint for monitoring
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"alarm":     s.engine.Alarm().State,
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
