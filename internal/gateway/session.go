package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/config"
)

// SessionGateway activates or resumes the session of a known user.
type SessionGateway struct {
	caller
	start config.Endpoint
}

// NewSessionGateway builds a SessionGateway.
func NewSessionGateway(api config.APIConfig, httpClient *http.Client, logger zerolog.Logger) *SessionGateway {
	return &SessionGateway{
		caller: newCaller(api, httpClient, logger, "session_gateway"),
		start:  api.Start,
	}
}

// Activate requests a session for userID. Calling it again for an already
// active user returns the same session id.
func (g *SessionGateway) Activate(ctx context.Context, userID string) (SessionActivationResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SessionActivationResult{}, &ValidationError{Field: "userId", Reason: "required"}
	}

	ep := g.start
	body, status, err := g.call(ctx, "start", ep, []param{
		{ep.Field("userId", "userId"), userID},
	})
	if err != nil {
		return SessionActivationResult{}, err
	}

	res := SessionActivationResult{
		StatusCode: statusOf(body, ep.Field("statusCode", "statusCode"), status),
		SessionID:  body.Get(ep.Field("session", "session")).Int(),
		UserID:     body.Get(ep.Field("resUserId", "userId")).String(),
	}
	if res.UserID == "" {
		res.UserID = userID
	}
	g.logger.Info().Str("user_id", res.UserID).Int64("session", res.SessionID).Msg("session activated")
	return res, nil
}
