package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/domain"
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

const (
	defaultInboxLimit = 100
	maxInboxLimit     = 500
	healthTimeout     = 2 * time.Second
)

// SignalInbox lists signaling messages addressed to a user.
type SignalInbox interface {
	ListSince(ctx context.Context, session domain.SessionID, to domain.UserID, afterID int64, limit int) ([]domain.SignalMessage, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type API struct {
	registry *app.Registry
	limiter  *app.JoinRateLimiter
	inbox    SignalInbox
	checks   map[string]HealthCheck
}

func NewAPI(registry *app.Registry, limiter *app.JoinRateLimiter, inbox SignalInbox, checks map[string]HealthCheck) *API {
	return &API{registry: registry, limiter: limiter, inbox: inbox, checks: checks}
}

type JoinRequest struct {
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

type JoinResponse struct {
	SessionID domain.SessionID `json:"session_id"`
	Voice     voice.Snapshot   `json:"voice"`
}

type MuteRequest struct {
	Muted *bool `json:"muted"`
}

type DeafenRequest struct {
	Deafened *bool `json:"deafened"`
}

type SignalsResponse struct {
	Signals []domain.SignalMessage `json:"signals"`
	Next    int64                  `json:"next"`
}

func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := nethttp.StatusOK
	results := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			log.Warn().Str("module", "adapters.http").Str("check", name).Err(err).Msg("health check failed")
			results[name] = err.Error()
			status = nethttp.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"status": nethttp.StatusText(status), "checks": results})
}

func (a *API) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.InvalidInput("body", "malformed json"))
		return
	}
	team, err := domain.ParseTeamID(req.TeamID)
	if err != nil {
		writeError(c, apperrors.InvalidInput("team_id", err.Error()))
		return
	}
	user, err := domain.ParseUserID(req.UserID)
	if err != nil {
		writeError(c, apperrors.InvalidInput("user_id", err.Error()))
		return
	}
	if !a.limiter.Allow(user) {
		writeError(c, apperrors.RateLimitExceeded())
		return
	}

	co, err := a.registry.GetOrCreate(user)
	if err != nil {
		writeError(c, err)
		return
	}
	session, err := co.Join(c.Request.Context(), team, user)
	if err != nil {
		log.Warn().Str("module", "adapters.http").Str("user", string(user)).Err(err).Msg("join failed")
		writeError(c, err)
		return
	}
	if err := rememberUser(c, string(user)); err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("save session cookie")
	}
	c.JSON(nethttp.StatusOK, JoinResponse{SessionID: session, Voice: co.Snapshot()})
}

func (a *API) Leave(c *gin.Context) {
	co, ok := a.coordinator(c)
	if !ok {
		return
	}
	if err := co.Leave(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, co.Snapshot())
}

func (a *API) Mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		writeError(c, apperrors.InvalidInput("muted", "required boolean"))
		return
	}
	co, ok := a.coordinator(c)
	if !ok {
		return
	}
	if err := co.SetMuted(c.Request.Context(), *req.Muted); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, co.Snapshot())
}

func (a *API) Deafen(c *gin.Context) {
	var req DeafenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Deafened == nil {
		writeError(c, apperrors.InvalidInput("deafened", "required boolean"))
		return
	}
	co, ok := a.coordinator(c)
	if !ok {
		return
	}
	if err := co.SetDeafened(c.Request.Context(), *req.Deafened); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, co.Snapshot())
}

func (a *API) State(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		writeError(c, err)
		return
	}
	co, ok := a.registry.Get(user)
	if !ok {
		c.JSON(nethttp.StatusOK, voice.Snapshot{
			State:        voice.StateDisconnected.String(),
			Links:        []voice.LinkInfo{},
			Participants: []domain.Participant{},
		})
		return
	}
	c.JSON(nethttp.StatusOK, co.Snapshot())
}

// Signals lists pending signaling messages for the current user, oldest first.
func (a *API) Signals(c *gin.Context) {
	after, err := parseIntQuery(c, "after", 0)
	if err != nil || after < 0 {
		writeError(c, apperrors.InvalidInput("after", "must be a non-negative integer"))
		return
	}
	limit, err := parseIntQuery(c, "limit", defaultInboxLimit)
	if err != nil || limit <= 0 {
		writeError(c, apperrors.InvalidInput("limit", "must be a positive integer"))
		return
	}
	limit = min(limit, maxInboxLimit)

	co, ok := a.coordinator(c)
	if !ok {
		return
	}
	snap := co.Snapshot()
	if snap.State != voice.StateConnected.String() {
		writeError(c, apperrors.NotConnected())
		return
	}

	msgs, err := a.inbox.ListSince(c.Request.Context(), snap.Session, snap.User, after, int(limit))
	if err != nil {
		writeError(c, apperrors.Database(err))
		return
	}
	next := after
	if n := len(msgs); n > 0 {
		next = msgs[n-1].ID
	}
	if msgs == nil {
		msgs = []domain.SignalMessage{}
	}
	c.JSON(nethttp.StatusOK, SignalsResponse{Signals: msgs, Next: next})
}

// coordinator resolves the caller's coordinator or writes the error response.
func (a *API) coordinator(c *gin.Context) (*voice.Coordinator, bool) {
	user, err := currentUser(c)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	co, ok := a.registry.Get(user)
	if !ok {
		writeError(c, apperrors.NotConnected())
		return nil, false
	}
	return co, true
}

var errNoUser = errors.New("no voice user in session")

// currentUser prefers the cookie session and falls back to the user_id query parameter.
func currentUser(c *gin.Context) (domain.UserID, error) {
	raw, ok := SessionUser(c)
	if !ok {
		raw = c.Query("user_id")
	}
	if raw == "" {
		return "", apperrors.InvalidInput("user_id", errNoUser.Error())
	}
	user, err := domain.ParseUserID(raw)
	if err != nil {
		return "", apperrors.InvalidInput("user_id", err.Error())
	}
	return user, nil
}

func parseIntQuery(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
