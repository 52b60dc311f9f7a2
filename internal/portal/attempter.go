// Package portal performs login attempts against a captive portal endpoint
// and classifies the portal's response.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/portalkeep/portalkeep/internal/config"
)

// Status classifies the result of a login attempt.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusFailure        Status = "failure"
	StatusTransportError Status = "transport_error"
)

// Outcome is the classified result of one login attempt.
type Outcome struct {
	Status  Status
	Message string
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// attemptTimeout bounds a single login request. Portals answer fast or not
// at all; a hung request must not stall the reconnect loop.
const attemptTimeout = 10 * time.Second

// failureBodyLimit caps how much of an unrecognized response body is carried
// into a Failure message.
const failureBodyLimit = 100

// maxResponseBytes bounds how much of the portal response is read at all.
const maxResponseBytes = 64 * 1024

// Attempter performs login attempts. It issues exactly one request per call
// and never retries internally; retry policy lives in the reconnect
// controller.
type Attempter struct {
	client *http.Client
}

// Option customises an Attempter.
type Option func(*Attempter)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Attempter) {
		if client != nil {
			a.client = client
		}
	}
}

// New constructs an Attempter.
func New(opts ...Option) *Attempter {
	a := &Attempter{
		client: &http.Client{Timeout: attemptTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attempt POSTs the configured login form to the portal endpoint and
// classifies the response. Network-layer failures map to
// StatusTransportError; everything the portal actually answered maps to
// StatusSuccess or StatusFailure.
func (a *Attempter) Attempt(ctx context.Context, cfg *config.Config) Outcome {
	form := url.Values{}
	for key, value := range cfg.Login.Fields {
		form.Set(key, value)
	}

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Login.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{Status: StatusTransportError, Message: fmt.Sprintf("build request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Outcome{Status: StatusTransportError, Message: fmt.Sprintf("portal request: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Outcome{Status: StatusTransportError, Message: fmt.Sprintf("read response: %v", err)}
	}

	return classify(body)
}

// classify interprets a portal response body.
//
// Structured responses win: a JSON object is judged by its "success" field,
// with "msg" carried into the outcome. Anything else falls back to a
// substring heuristic over the raw text, which is what most ac_portal
// deployments actually require.
func classify(body []byte) Outcome {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil && doc != nil {
		msg, _ := doc["msg"].(string)
		if truthy(doc["success"]) {
			return Outcome{Status: StatusSuccess, Message: msg}
		}
		if msg == "" {
			msg = "unknown error"
		}
		return Outcome{Status: StatusFailure, Message: msg}
	}

	text := string(body)
	lower := strings.ToLower(text)
	if strings.Contains(lower, "logon success") || strings.Contains(lower, "success") {
		return Outcome{Status: StatusSuccess, Message: "login succeeded"}
	}

	return Outcome{Status: StatusFailure, Message: truncate(text, failureBodyLimit)}
}

// truthy interprets the portal's loosely-typed success flag. Portals have
// been observed returning booleans, numbers and strings for the same field.
func truthy(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "", "false", "0":
			return false
		default:
			return true
		}
	case float64:
		return value != 0
	default:
		return false
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
