// Package admin serves the HTTP admin API for a running game: dbck passes,
// freelist splicing, tracked heap statistics, report history and a live
// event stream over WebSocket.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/server"
	"github.com/gorilla/websocket"
)

// Config holds configuration for the admin HTTP server.
type Config struct {
	Host      string
	Port      int
	DataDir   string // where the admin password hash lives
	JWTSecret string
	JWTExpiry int // seconds
	RateLimit int // login attempts per minute per IP
}

// ConfigFromGame builds a Config from the game's web settings.
func ConfigFromGame(gc server.GameConf, dataDir string) Config {
	return Config{
		Host:      gc.WebHost,
		Port:      gc.WebPort,
		DataDir:   dataDir,
		JWTSecret: gc.JWTSecret,
		JWTExpiry: gc.JWTExpiry,
		RateLimit: 10,
	}
}

// Admin is the admin API HTTP handler.
type Admin struct {
	game     *server.Game
	auth     *adminAuth
	tokens   *TokenService
	rl       *rateLimiter
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	httpSrv  *http.Server
}

// New creates an Admin bound to game.
func New(game *server.Game, cfg Config) *Admin {
	a := &Admin{
		game:   game,
		auth:   newAdminAuth(cfg.DataDir),
		tokens: NewTokenService(cfg.JWTSecret, cfg.JWTExpiry),
		rl:     newRateLimiter(cfg.RateLimit),
		mux:    http.NewServeMux(),
	}
	a.registerRoutes()
	a.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

// Tokens returns the token service, for issuing tokens outside a login.
func (a *Admin) Tokens() *TokenService { return a.tokens }

func (a *Admin) registerRoutes() {
	// Public
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.Handle("GET /metrics", a.game.Metrics.Handler())
	a.mux.Handle("POST /api/auth/login", rateLimitMiddleware(a.rl, http.HandlerFunc(a.handleAuthLogin)))
	a.mux.HandleFunc("POST /api/auth/refresh", a.handleAuthRefresh)

	// WebSocket authenticates from the query string
	a.mux.HandleFunc("GET /api/events", a.handleEvents)

	for _, r := range []struct {
		pattern string
		h       http.HandlerFunc
	}{
		{"POST /api/auth/change-password", a.handleAuthChangePassword},
		{"GET /api/status", a.handleStatus},
		{"GET /api/memory", a.handleMemory},
		{"GET /api/config", a.handleGetConfig},
		{"POST /api/dbck", a.handleDBCK},
		{"GET /api/dbck/last", a.handleLastReport},
		{"POST /api/freelist", a.handleFreelist},
		{"GET /api/reports", a.handleReports},
		{"GET /api/reports/{id}/findings", a.handleFindings},
		{"GET /api/objects/{dbref}/history", a.handleHistory},
		{"POST /api/save", a.handleSave},
		{"POST /api/archive", a.handleArchive},
		{"GET /api/archives", a.handleListArchives},
		{"POST /api/command", a.handleCommand},
	} {
		a.mux.Handle(r.pattern, authMiddleware(a.tokens, r.h))
	}
}

// Handler returns the routed handler, for tests and for mounting under
// another server.
func (a *Admin) Handler() http.Handler { return a.mux }

// Start listens until Stop is called.
func (a *Admin) Start() error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			a.rl.cleanup()
		}
	}()

	log.Printf("admin: listening on %s", a.httpSrv.Addr)
	err := a.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (a *Admin) Stop(ctx context.Context) error {
	return a.httpSrv.Shutdown(ctx)
}

// readJSON decodes a JSON request body.
func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
