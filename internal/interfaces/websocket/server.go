package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mapsync/internal/application/services"
	"mapsync/internal/application/session"
	"mapsync/pkg/auth"
	pkgerrors "mapsync/pkg/errors"
)

// TokenValidator checks bearer tokens; a nil validator disables auth
type TokenValidator interface {
	ValidateToken(token string) (*auth.UserContext, error)
}

// ServerConfig holds canvas server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins lists browser origins allowed to connect; "*" allows any
	AllowedOrigins []string
	Client         ClientConfig
}

// DefaultServerConfig returns default canvas server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  []string{"*"},
		Client:          DefaultClientConfig(),
	}
}

// Server upgrades canvas requests and opens one session per connection
type Server struct {
	hub       *Hub
	sessions  *session.Manager
	maps      services.MapService
	validator TokenValidator
	upgrader  websocket.Upgrader
	cfg       ServerConfig
	logger    *zap.Logger
}

// NewServer creates a canvas server
func NewServer(hub *Hub, sessions *session.Manager, maps services.MapService, validator TokenValidator, cfg ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		hub:       hub,
		sessions:  sessions,
		maps:      maps,
		validator: validator,
		cfg:       cfg,
		logger:    logger.Named("canvas"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleCanvas handles GET /api/maps/{mapID}/canvas
func (s *Server) HandleCanvas(w http.ResponseWriter, r *http.Request) {
	mapID := chi.URLParam(r, "mapID")

	userID := ""
	if s.validator != nil {
		user, err := s.validator.ValidateToken(auth.TokenFromRequest(r))
		if err != nil {
			s.logger.Warn("Canvas authentication failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
			s.refuse(w, pkgerrors.NewUnauthorizedError("invalid token"))
			return
		}
		userID = user.UserID
		if _, err := s.maps.Authorize(r.Context(), mapID, userID, services.AccessView); err != nil {
			s.refuse(w, err)
			return
		}
	}

	if err := s.hub.Reserve(mapID); err != nil {
		s.logger.Warn("Canvas connection refused", zap.String("map_id", mapID), zap.Error(err))
		s.refuse(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	sess, err := s.sessions.Open(r.Context(), mapID)
	if err != nil {
		s.abandon(conn, err)
		return
	}

	client := newClient(userID, s.hub, conn, sess, s.cfg.Client, s.logger)
	if err := client.Start(); err != nil {
		_ = sess.Close()
		s.abandon(conn, err)
		return
	}

	s.logger.Info("Canvas connection established",
		zap.String("map_id", mapID),
		zap.String("connection_id", client.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

func (s *Server) refuse(w http.ResponseWriter, err error) {
	data := errorData{Type: string(pkgerrors.ErrorTypeInternal), Message: "internal error"}
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		data = errorData{Type: string(appErr.Type), Message: appErr.Message}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pkgerrors.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]errorData{"error": data})
}

// abandon tells the browser the map could not be opened and hangs up
func (s *Server) abandon(conn *websocket.Conn, err error) {
	s.logger.Warn("Canvas session abandoned", zap.Error(err))

	data := errorData{Type: string(pkgerrors.ErrorTypeLoadFailed), Message: "map could not be loaded"}
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		data = errorData{Type: string(appErr.Type), Message: appErr.Message}
	}
	deadline := time.Now().Add(s.cfg.Client.WriteWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(newOutbound(TypeSessionAbandoned, data))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session abandoned"), deadline)
	_ = conn.Close()
}
