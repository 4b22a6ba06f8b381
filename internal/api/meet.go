package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-meet/internal/config"
	"github.com/npezzotti/go-meet/internal/server"
)

type MeetApp struct {
	log            *log.Logger
	mux            *http.Server
	ms             *server.MeetServer
	signingKey     []byte
	allowedOrigins []string
}

// NewMeetApp wires the HTTP surface onto mux. The caller owns mux so
// auxiliary handlers, like the stats endpoint, can share the server.
func NewMeetApp(logger *log.Logger, ms *server.MeetServer, cfg *config.Config, mux *http.ServeMux) *MeetApp {
	s := &MeetApp{
		log:            logger,
		ms:             ms,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/meetings", s.createMeeting)
	mux.HandleFunc("POST /api/meetings/join", s.joinMeeting)
	mux.HandleFunc("GET /api/meetings", s.listMeetings)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *MeetApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *MeetApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
