// Package server exposes the session channel over HTTP: a health probe and a
// websocket endpoint that streams response fragments per query.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sage/internal/apperrors"
	"sage/internal/di"
	"sage/internal/logging"
	"sage/internal/router"
	"sage/pkg/types"
)

// Server binds the wired services to the network.
type Server struct {
	services *di.Services
	logger   logging.Logger
	http     *http.Server
	upgrader websocket.Upgrader
}

// New builds the HTTP server. Start must be called to begin serving.
func New(services *di.Services) *Server {
	s := &Server{
		services: services,
		logger:   services.Logger.WithComponent("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon binds to localhost; origin checks add nothing there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	cfg := services.Config.Server
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Handler(),
		// No WriteTimeout: it would sever long-lived websocket sessions.
		ReadHeaderTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the route tree, exposed separately so tests can serve it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.Recoverer)
	mux.Get("/healthz", s.handleHealth)
	mux.Get("/ws", s.handleSession)
	mux.Post("/v1/documents", s.handleIngest)
	mux.Delete("/v1/documents/{kind}/{id}", s.handleRemoveDocument)
	return mux
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.services.HealthCheck(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleIngest is the importer boundary: crawlers and importers POST whole
// documents here and the pipeline chunks and indexes them.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var doc types.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid document payload", http.StatusBadRequest)
		return
	}

	res, err := s.services.Ingest.Ingest(r.Context(), &doc)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.Is(err, apperrors.KindInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	kind := types.SourceKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	if err := s.services.Ingest.Remove(r.Context(), kind, id); err != nil {
		status := http.StatusInternalServerError
		if apperrors.Is(err, apperrors.KindInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryEnvelope is one inbound websocket message.
type queryEnvelope struct {
	Text string `json:"text"`
}

// handleSession upgrades the connection and serves one session on it. Each
// inbound message is a query; its fragments stream back in order, closed off
// by a done fragment. Error fragments leave the session open.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := s.services.Router.NewSession(uuid.NewString())
	defer sess.Close()

	ctx := r.Context()
	s.logger.InfoContext(ctx, "session opened", "session", sess.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WarnContext(ctx, "session read failed", "session", sess.ID, "error", err)
			}
			return
		}

		var q queryEnvelope
		if err := json.Unmarshal(data, &q); err != nil || q.Text == "" {
			// Tolerate bare-text clients.
			q.Text = string(data)
		}

		for frag := range sess.Query(ctx, q.Text) {
			if err := conn.WriteJSON(frag); err != nil {
				s.logger.WarnContext(ctx, "session write failed", "session", sess.ID, "error", err)
				return
			}
		}
		if err := conn.WriteJSON(router.Fragment{Type: router.FragmentDone}); err != nil {
			return
		}
	}
}
