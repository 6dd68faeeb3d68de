package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/service/registry"
	"github.com/zhouzirui/travochat/pkg/utils"
)

// Handler serves user registration and session activation.
type Handler struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// New creates an account handler.
func New(reg *registry.Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: reg,
		logger:   logger.With().Str("component", "account").Logger(),
	}
}

// RegisterRoutes mounts the account routes. check and start also accept GET
// with query parameters; /checkUser is an alias of /check. /end closes a
// user's session so the next /start issues a new one.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/check", h.handleCheck)
	r.Get("/check", h.handleCheck)
	r.Post("/checkUser", h.handleCheck)
	r.Get("/checkUser", h.handleCheck)
	r.Post("/start", h.handleStart)
	r.Get("/start", h.handleStart)
	r.Post("/end", h.handleEnd)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.registry.Register(r.Context(), fields["name"], fields["email"])
	switch {
	case errors.Is(err, registry.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, registry.ErrEmailTaken):
		h.logger.Info().Str("email", fields["email"]).Msg("duplicate registration")
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"statusCode": http.StatusConflict,
			"message":    "Email already registered",
		})
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().Str("user_id", user.ID).Int64("session", user.SessionID).Msg("user registered")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"statusCode": http.StatusOK,
		"message":    "User registered successfully",
		"data": map[string]any{
			"id":      user.ID,
			"session": user.SessionID,
		},
	})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fields["email"] == "" {
		utils.RespondError(w, http.StatusBadRequest, "email is required")
		return
	}

	data := map[string]any{"userId": 0, "session": 0}
	if user, ok := h.registry.Lookup(r.Context(), fields["email"]); ok {
		data["userId"] = user.ID
		data["session"] = user.SessionID
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"statusCode": http.StatusOK,
		"data":       data,
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fields["userId"] == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	user, err := h.registry.Start(r.Context(), fields["userId"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	h.logger.Info().Str("user_id", user.ID).Int64("session", user.SessionID).Msg("session started")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"statusCode": http.StatusOK,
		"session":    user.SessionID,
		"userId":     user.ID,
	})
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fields["userId"] == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.registry.End(r.Context(), fields["userId"]); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	h.logger.Info().Str("user_id", fields["userId"]).Msg("session ended")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"statusCode": http.StatusOK,
		"userId":     fields["userId"],
	})
}

// requestFields reads the query string for GET and a flat JSON object
// otherwise. Scalar values are rendered as strings.
func requestFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	if r.Method == http.MethodGet {
		for key := range r.URL.Query() {
			fields[key] = r.URL.Query().Get(key)
		}
		return fields, nil
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, err
	}
	for key, value := range payload {
		switch v := value.(type) {
		case nil:
		case string:
			fields[key] = v
		case float64:
			fields[key] = fmt.Sprintf("%.0f", v)
		default:
			fields[key] = fmt.Sprint(v)
		}
	}
	return fields, nil
}
