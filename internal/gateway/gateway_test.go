package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/travochat/internal/config"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	body   map[string]any
}

func newTestAPI(t *testing.T, handler func(w http.ResponseWriter, r recorded)) (config.APIConfig, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		rec := recorded{method: r.Method, path: r.URL.Path, query: map[string]string{}}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		if r.Body != nil && r.Method != http.MethodGet {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, rec)
	}))
	t.Cleanup(srv.Close)

	api := config.Defaults().API
	api.BaseURL = srv.URL
	return api, &calls
}

func TestRegister_Success(t *testing.T) {
	var got recorded
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		got = r
		w.Write([]byte(`{"statusCode":200,"message":"registered","data":{"id":"42","session":7}}`))
	})

	gw := NewIdentityGateway(api, nil, zerolog.Nop())
	res, err := gw.Register(context.Background(), " Ann ", "a@x.com")
	require.NoError(t, err)

	assert.True(t, res.Accepted())
	assert.Equal(t, "42", res.UserID)
	assert.Equal(t, int64(7), res.SessionID)
	assert.Equal(t, "registered", res.Message)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/register", got.path)
	assert.Equal(t, "Ann", got.body["name"])
	assert.Equal(t, "a@x.com", got.body["email"])
}

func TestRegister_ValidationSkipsNetwork(t *testing.T) {
	api, calls := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		w.Write([]byte(`{}`))
	})
	gw := NewIdentityGateway(api, nil, zerolog.Nop())

	tests := []struct {
		name, user, email, field string
	}{
		{"empty name", "", "a@x.com", "name"},
		{"blank name", "   ", "a@x.com", "name"},
		{"empty email", "Ann", "", "email"},
		{"malformed email", "Ann", "not-an-email", "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.Register(context.Background(), tt.user, tt.email)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, IsValidation(err))
		})
	}
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestRegister_DomainRejectionIsResult(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		w.Write([]byte(`{"statusCode":409,"message":"Email already registered"}`))
	})
	gw := NewIdentityGateway(api, nil, zerolog.Nop())

	res, err := gw.Register(context.Background(), "Ann", "a@x.com")
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, 409, res.StatusCode)
	assert.Equal(t, "Email already registered", res.Message)
	assert.Zero(t, res.SessionID)
}

func TestRegister_HTTPErrorIsServiceError(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"database down"}`))
	})
	gw := NewIdentityGateway(api, nil, zerolog.Nop())

	_, err := gw.Register(context.Background(), "Ann", "a@x.com")
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "register", serr.Op)
	assert.Equal(t, http.StatusInternalServerError, serr.StatusCode)
	assert.Equal(t, "database down", serr.Message)
	assert.False(t, IsValidation(err))
}

func TestRegister_InvalidBody(t *testing.T) {
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		w.Write([]byte(`<html>oops</html>`))
	})
	gw := NewIdentityGateway(api, nil, zerolog.Nop())

	_, err := gw.Register(context.Background(), "Ann", "a@x.com")
	require.Error(t, err)
	assert.True(t, IsService(err))
	assert.True(t, errors.Is(err, ErrInvalidResponse))
}

func TestRegister_TransportFailure(t *testing.T) {
	api := config.Defaults().API
	srv := httptest.NewServer(http.NotFoundHandler())
	api.BaseURL = srv.URL
	srv.Close()

	gw := NewIdentityGateway(api, nil, zerolog.Nop())
	_, err := gw.Register(context.Background(), "Ann", "a@x.com")
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Zero(t, serr.StatusCode)
	assert.NotNil(t, serr.Unwrap())
}

func TestCheckIdentity(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		exists  bool
		session int64
	}{
		{"known with session", `{"data":{"userId":"42","session":7}}`, true, 7},
		{"known without session", `{"data":{"userId":"42","session":0}}`, true, 0},
		{"unknown", `{"data":{"userId":0,"session":0}}`, false, 0},
		{"empty body", ``, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
				assert.Equal(t, "/check", r.path)
				assert.Equal(t, "a@x.com", r.body["email"])
				w.Write([]byte(tt.body))
			})
			gw := NewIdentityGateway(api, nil, zerolog.Nop())

			st, err := gw.CheckIdentity(context.Background(), "a@x.com")
			require.NoError(t, err)
			assert.Equal(t, tt.exists, st.Exists)
			assert.Equal(t, tt.session, st.SessionID)
		})
	}
}

func TestCheckIdentity_GetAlternate(t *testing.T) {
	var got recorded
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		got = r
		w.Write([]byte(`{"userId":"42","session":3}`))
	})
	api.Check = config.Endpoint{Method: "GET", Path: "/checkUser", Fields: map[string]string{
		"userId":  "userId",
		"session": "session",
	}}
	gw := NewIdentityGateway(api, nil, zerolog.Nop())

	st, err := gw.CheckIdentity(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/checkUser", got.path)
	assert.Equal(t, "a@x.com", got.query["email"])
	assert.Equal(t, int64(3), st.SessionID)
}

func TestActivate(t *testing.T) {
	var got recorded
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		got = r
		w.Write([]byte(`{"statusCode":200,"session":7,"userId":"42"}`))
	})
	gw := NewSessionGateway(api, nil, zerolog.Nop())

	res, err := gw.Activate(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, int64(7), res.SessionID)
	assert.Equal(t, "42", res.UserID)
	assert.Equal(t, "/start", got.path)
	assert.Equal(t, "42", got.body["userId"])
}

func TestActivate_GetAlternateDefaultsUserID(t *testing.T) {
	var got recorded
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r recorded) {
		got = r
		w.Write([]byte(`{"session":9}`))
	})
	api.Start.Method = "GET"
	gw := NewSessionGateway(api, nil, zerolog.Nop())

	res, err := gw.Activate(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", got.query["userId"])
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(9), res.SessionID)
	assert.Equal(t, "42", res.UserID)
}

func TestActivate_RequiresUserID(t *testing.T) {
	api, calls := newTestAPI(t, func(w http.ResponseWriter, r recorded) {})
	gw := NewSessionGateway(api, nil, zerolog.Nop())

	_, err := gw.Activate(context.Background(), " ")
	assert.True(t, IsValidation(err))
	assert.Zero(t, atomic.LoadInt32(calls))
}
