package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/protocol"
	"github.com/vandervillain/rando/internal/signaling"
)

// Identity headers presented when opening /ws. Browsers cannot set headers
// on websocket requests, so the query parameters are accepted too.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

const maxNameLength = 64

// Server wires HTTP routes to the hub.
type Server struct {
	Hub      *signaling.Hub
	Config   *config.Server
	Gatherer prometheus.Gatherer

	upgrader websocket.Upgrader
}

func New(hub *signaling.Hub, cfg *config.Server, gatherer prometheus.Gatherer) *Server {
	s := &Server{Hub: hub, Config: cfg, Gatherer: gatherer}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthCheck)
	r.Get("/ws", s.ServeWs)
	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/users", s.adminUsers)
			r.Get("/rooms", s.adminRooms)
		})
	})
	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// ServeWs authenticates the request, upgrades it and hands the socket to
// the hub.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	user, ok := identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := signaling.NewClient(s.Hub, conn, user, signaling.ClientOptions{
		SendBuffer:   s.Config.SendBuffer,
		MessageRate:  s.Config.MessageRate,
		MessageBurst: s.Config.MessageBurst,
	})
	if !s.Hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func identity(r *http.Request) (protocol.User, bool) {
	q := r.URL.Query()
	id := firstNonEmpty(r.Header.Get(HeaderUserID), q.Get("user_id"))
	if id == "" {
		return protocol.User{}, false
	}
	name := firstNonEmpty(r.Header.Get(HeaderUserName), q.Get("name"), id)
	return protocol.User{ID: id, Name: truncate(name, maxNameLength)}, true
}

// login issues an opaque user id for a display name.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	user := protocol.User{ID: uuid.NewString(), Name: truncate(name, maxNameLength)}
	log.Info().Str("user_id", user.ID).Str("name", user.Name).Msg("issued identity")
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Config.AdminSecret == "" {
			http.NotFound(w, r)
			return
		}
		got := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.Config.AdminSecret)) != 1 {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminUsers(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if ok {
		writeJSON(w, http.StatusOK, snap.Users)
	}
}

func (s *Server) adminRooms(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if ok {
		writeJSON(w, http.StatusOK, snap.Rooms)
	}
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (protocol.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	snap, err := s.Hub.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return protocol.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.Config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients.
		return true
	}
	for _, allowed := range s.Config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
