package gateway

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/config"
)

// IdentityGateway registers users and resolves emails to existing users.
type IdentityGateway struct {
	caller
	register config.Endpoint
	check    config.Endpoint
}

// NewIdentityGateway builds an IdentityGateway. A nil httpClient gets one with
// the configured timeout.
func NewIdentityGateway(api config.APIConfig, httpClient *http.Client, logger zerolog.Logger) *IdentityGateway {
	return &IdentityGateway{
		caller:   newCaller(api, httpClient, logger, "identity_gateway"),
		register: api.Register,
		check:    api.Check,
	}
}

// Register creates a user. Empty or malformed input fails with a
// ValidationError without contacting the service. A body status other than
// 2xx is returned as a result, not an error.
func (g *IdentityGateway) Register(ctx context.Context, name, email string) (RegistrationResult, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if err := validateRegistration(name, email); err != nil {
		return RegistrationResult{}, err
	}

	ep := g.register
	body, status, err := g.call(ctx, "register", ep, []param{
		{ep.Field("name", "name"), name},
		{ep.Field("email", "email"), email},
	})
	if err != nil {
		return RegistrationResult{}, err
	}

	res := RegistrationResult{
		StatusCode: statusOf(body, ep.Field("statusCode", "statusCode"), status),
		Message:    body.Get(ep.Field("message", "message")).String(),
		UserID:     body.Get(ep.Field("userId", "data.id")).String(),
		SessionID:  body.Get(ep.Field("session", "data.session")).Int(),
	}
	g.logger.Info().
		Int("status", res.StatusCode).
		Str("user_id", res.UserID).
		Int64("session", res.SessionID).
		Msg("registration answered")
	return res, nil
}

// CheckIdentity asks whether email belongs to a known user and which session
// that user currently holds (0 when none).
func (g *IdentityGateway) CheckIdentity(ctx context.Context, email string) (IdentityStatus, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return IdentityStatus{}, &ValidationError{Field: "email", Reason: "required"}
	}

	ep := g.check
	body, _, err := g.call(ctx, "check", ep, []param{
		{ep.Field("email", "email"), email},
	})
	if err != nil {
		return IdentityStatus{}, err
	}

	userID := body.Get(ep.Field("userId", "data.userId")).String()
	st := IdentityStatus{
		Exists:    userID != "" && userID != "0",
		UserID:    userID,
		SessionID: body.Get(ep.Field("session", "data.session")).Int(),
	}
	g.logger.Debug().Bool("exists", st.Exists).Int64("session", st.SessionID).Msg("identity checked")
	return st, nil
}

func validateRegistration(name, email string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Reason: "not a valid address"}
	}
	return nil
}
