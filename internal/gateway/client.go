// Package gateway calls the registration and session service over HTTP.
//
// Field names differ between deployments, so every request and response field
// is addressed through a path from config.Endpoint (sjson for requests, gjson
// for responses). Each endpoint decodes into its own result type.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/zhouzirui/travochat/internal/config"
)

const maxBodyBytes = 1 << 20

type param struct {
	path  string
	value any
}

// caller performs one endpoint call and returns the parsed JSON body.
type caller struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func newCaller(api config.APIConfig, httpClient *http.Client, logger zerolog.Logger, component string) caller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: api.Timeout}
	}
	return caller{
		baseURL: strings.TrimRight(api.BaseURL, "/"),
		http:    httpClient,
		logger:  logger.With().Str("component", component).Logger(),
	}
}

func (c caller) call(ctx context.Context, op string, ep config.Endpoint, params []param) (gjson.Result, int, error) {
	req, err := c.newRequest(ctx, ep, params)
	if err != nil {
		return gjson.Result{}, 0, &ServiceError{Op: op, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("request failed")
		return gjson.Result{}, 0, &ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, resp.StatusCode, &ServiceError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	var body gjson.Result
	if len(strings.TrimSpace(string(raw))) > 0 {
		if !gjson.ValidBytes(raw) {
			return gjson.Result{}, resp.StatusCode, &ServiceError{Op: op, StatusCode: resp.StatusCode, Err: ErrInvalidResponse}
		}
		body = gjson.ParseBytes(raw)
	}

	if !isSuccess(resp.StatusCode) {
		se := &ServiceError{Op: op, StatusCode: resp.StatusCode}
		if msg := body.Get("message"); msg.Exists() {
			se.Message = msg.String()
		} else if msg := body.Get("error"); msg.Exists() {
			se.Message = msg.String()
		}
		c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("message", se.Message).Msg("service rejected request")
		return body, resp.StatusCode, se
	}

	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("request completed")
	return body, resp.StatusCode, nil
}

func (c caller) newRequest(ctx context.Context, ep config.Endpoint, params []param) (*http.Request, error) {
	method := strings.ToUpper(ep.Method)
	target := c.baseURL + ep.Path

	if method == http.MethodGet {
		q := url.Values{}
		for _, p := range params {
			q.Set(p.path, fmt.Sprint(p.value))
		}
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
		return http.NewRequestWithContext(ctx, method, target, nil)
	}

	body := []byte("{}")
	for _, p := range params {
		var err error
		body, err = sjson.SetBytes(body, p.path, p.value)
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", p.path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// statusOf prefers the status code reported in the body over the HTTP one.
func statusOf(body gjson.Result, path string, httpStatus int) int {
	if v := body.Get(path); v.Exists() && v.Int() != 0 {
		return int(v.Int())
	}
	return httpStatus
}
