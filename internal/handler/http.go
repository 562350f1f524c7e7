package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/step-groups/internal/domain"
	"github.com/step-groups/internal/validation"
	"github.com/step-groups/internal/websocket"
)

// Groups is the group lifecycle and membership API the handlers call
type Groups interface {
	CreateGroup(ctx context.Context, actorID string, req domain.CreateGroupRequest) (*domain.Group, error)
	GetGroup(ctx context.Context, actorID, groupID string) (*domain.Group, error)
	UpdateGroup(ctx context.Context, actorID, groupID string, req domain.UpdateGroupRequest) (*domain.Group, error)
	DeleteGroup(ctx context.Context, actorID, groupID string) error
	RegenerateJoinCode(ctx context.Context, actorID, groupID string) (string, error)
	GetJoinCode(ctx context.Context, actorID, groupID string) (string, error)
	SearchPublicGroups(ctx context.Context, query string, limit int) ([]domain.Group, error)
	ListUserGroups(ctx context.Context, actorID string) ([]domain.UserGroup, error)

	Join(ctx context.Context, actorID, groupID, code string) (*domain.GroupMembership, error)
	JoinByCode(ctx context.Context, actorID, code string) (*domain.GroupMembership, error)
	Leave(ctx context.Context, actorID, groupID string) error
	InviteMember(ctx context.Context, actorID, groupID, userID string) (*domain.GroupMembership, error)
	RemoveMember(ctx context.Context, actorID, groupID, userID string) error
	UpdateMemberRole(ctx context.Context, actorID, groupID, userID string, role domain.Role) (*domain.GroupMembership, error)
	RequestToJoin(ctx context.Context, actorID, groupID string) (*domain.JoinRequest, error)
	ApproveMember(ctx context.Context, actorID, groupID, userID string) (*domain.GroupMembership, error)
	ListMembers(ctx context.Context, actorID, groupID string) ([]domain.Member, error)
	ListPendingRequests(ctx context.Context, actorID, groupID string) ([]domain.JoinRequest, error)
}

// Leaderboards assembles group leaderboards
type Leaderboards interface {
	GetLeaderboard(ctx context.Context, actorID, groupID string) (*domain.Leaderboard, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the groups API
type Handler struct {
	groups       Groups
	leaderboards Leaderboards
	hub          *websocket.Hub
	db           Pinger
	validate     *validation.Validator
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(groups Groups, leaderboards Leaderboards, hub *websocket.Hub, db Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		groups:       groups,
		leaderboards: leaderboards,
		hub:          hub,
		db:           db,
		validate:     validation.New(),
		logger:       logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type contextKey string

const contextKeyUserID contextKey = "user_id"

// userIDHeader carries the identity resolved by the upstream gateway
const userIDHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.With(h.requireUser).Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.requireUser)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Get("/", h.ListUserGroups)
			r.Get("/search", h.SearchPublicGroups)
			r.Post("/join", h.JoinByCode)

			r.Route("/{groupID}", func(r chi.Router) {
				r.Get("/", h.GetGroup)
				r.Put("/", h.UpdateGroup)
				r.Delete("/", h.DeleteGroup)

				r.Post("/join", h.Join)
				r.Post("/leave", h.Leave)
				r.Post("/requests", h.RequestToJoin)
				r.Get("/requests", h.ListPendingRequests)

				r.Get("/join-code", h.GetJoinCode)
				r.Post("/join-code", h.RegenerateJoinCode)

				r.Get("/members", h.ListMembers)
				r.Post("/members", h.InviteMember)
				r.Post("/members/{userID}/approve", h.ApproveMember)
				r.Delete("/members/{userID}", h.RemoveMember)
				r.Put("/members/{userID}/role", h.UpdateMemberRole)

				r.Get("/leaderboard", h.GetLeaderboard)
			})
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireUser rejects requests without a resolved user and attaches the
// user id to the request context
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userIDHeader)
		if userID == "" {
			h.writeJSON(w, http.StatusUnauthorized, APIResponse{
				Success: false,
				Error:   "missing " + userIDHeader + " header",
				Code:    "unauthenticated",
			})
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getUserID extracts the acting user id from the request context
func getUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok {
		return userID
	}
	return ""
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeCreated(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a domain error to its status. Internal failures are logged
// and reported without their cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := kind.HTTPStatus()

	resp := APIResponse{Success: false, Code: string(kind)}

	var derr *domain.Error
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		if kind == domain.KindUpstream {
			resp.Error = "upstream service unavailable"
		} else {
			resp.Error = domain.ErrInternal.Message
		}
	case errors.As(err, &derr):
		resp.Error = derr.Error()
		resp.Details = derr.Details
	default:
		resp.Error = err.Error()
	}

	h.writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// to the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validation("body", "malformed JSON request body")
	}
	return h.validate.Validate(dst)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, getUserID(r.Context()), h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the database answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Error:   "database unavailable",
			})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}
