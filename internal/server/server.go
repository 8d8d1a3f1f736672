// Package server exposes the capture daemon over HTTP: a message intake
// for execution contexts, an SSE event stream carrying the ui context's
// bus traffic, and health endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/bus"
	"github.com/thebtf/snapcase/internal/config"
	"github.com/thebtf/snapcase/internal/coordinator"
	"github.com/thebtf/snapcase/internal/server/sse"
	"github.com/thebtf/snapcase/pkg/models"
)

// maxMessageBytes bounds inbound message bodies. Region base frames never
// travel through this endpoint, so the limit stays small.
const maxMessageBytes = 1 << 20

// Service is the HTTP front of the daemon.
type Service struct {
	version   string
	config    *config.Config
	bus       bus.Bus
	coord     *coordinator.Coordinator
	events    *sse.Broadcaster
	router    chi.Router
	ready     atomic.Bool
	startTime time.Time
}

// NewService builds the service and its routes.
func NewService(version string, cfg *config.Config, b bus.Bus, coord *coordinator.Coordinator) *Service {
	s := &Service{
		version:   version,
		config:    cfg,
		bus:       b,
		coord:     coord,
		events:    sse.NewBroadcaster(),
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/events", s.events.Serve)
	s.router.Post("/api/message", s.handleMessage)
	s.router.Get("/api/recording", s.handleRecordingState)
	s.router.Post("/api/recording/pause", s.handlePause)
	s.router.Post("/api/recording/resume", s.handleResume)
}

// Router exposes the handler, mainly for tests.
func (s *Service) Router() http.Handler { return s.router }

// Run attaches the ui context to the bus, bridges it onto the event
// stream, and serves HTTP until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	inbox, detach := s.bus.Attach(models.ContextUI, 64)
	defer detach()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-inbox:
				if !ok {
					return
				}
				s.events.BroadcastEnvelope(env)
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", s.version).Msg("capturd listening")
		errCh <- srv.ListenAndServe()
	}()
	s.ready.Store(true)

	select {
	case <-ctx.Done():
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		s.ready.Store(false)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleMessage accepts an envelope from an execution context and routes
// it to the coordinator. Delivery is fire-and-forget; results come back
// over the event stream.
func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env models.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err := dec.Decode(&env); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed envelope")
		return
	}
	if env.Type == "" {
		s.respondError(w, http.StatusBadRequest, "missing message type")
		return
	}
	if env.From == "" {
		env.From = models.ContextUI
	}

	receivers := s.bus.Send(models.ContextCoordinator, env)
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"receivers": receivers,
	})
}

func (s *Service) handleRecordingState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	s.coord.PauseRecording(r.Context())
	s.respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	s.coord.ResumeRecording(r.Context())
	s.respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
		"eventClients":  s.events.ClientCount(),
		"stats":         s.coord.GetStats(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Service) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
