package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/portalkeep/portalkeep/internal/config"
)

func testConfig(loginURL string) *config.Config {
	cfg := &config.Config{
		Login: config.Login{
			URL: loginURL,
			Fields: map[string]string{
				"opr":      "pwdLogin",
				"userName": "alice",
				"pwd":      "secret",
			},
		},
		Headers: map[string]string{
			"User-Agent":       "portalkeep-test",
			"X-Requested-With": "XMLHttpRequest",
		},
	}
	cfg.Normalize()
	return cfg
}

func TestAttemptSendsFormAndHeaders(t *testing.T) {
	var gotForm map[string]string
	var gotUA, gotXRW string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"opr":      r.PostFormValue("opr"),
			"userName": r.PostFormValue("userName"),
			"pwd":      r.PostFormValue("pwd"),
		}
		gotUA = r.Header.Get("User-Agent")
		gotXRW = r.Header.Get("X-Requested-With")
		w.Write([]byte(`{"success": true, "msg": "ok"}`))
	}))
	defer server.Close()

	outcome := New().Attempt(context.Background(), testConfig(server.URL))

	if outcome.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%q)", outcome.Status, outcome.Message)
	}
	if outcome.Message != "ok" {
		t.Fatalf("expected message from msg field, got %q", outcome.Message)
	}
	if gotForm["userName"] != "alice" || gotForm["pwd"] != "secret" || gotForm["opr"] != "pwdLogin" {
		t.Fatalf("unexpected form fields: %v", gotForm)
	}
	if gotUA != "portalkeep-test" || gotXRW != "XMLHttpRequest" {
		t.Fatalf("configured headers not applied: UA=%q XRW=%q", gotUA, gotXRW)
	}
}

func TestAttemptTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	outcome := New().Attempt(context.Background(), testConfig(server.URL))

	if outcome.Status != StatusTransportError {
		t.Fatalf("expected transport error, got %s (%q)", outcome.Status, outcome.Message)
	}
	if outcome.Message == "" {
		t.Fatal("expected a transport error description")
	}
}

func TestClassify(t *testing.T) {
	longBody := strings.Repeat("x", 300)

	tests := []struct {
		name        string
		body        string
		wantStatus  Status
		wantMessage string
	}{
		{
			name:        "json success with msg",
			body:        `{"success": true, "msg": "welcome"}`,
			wantStatus:  StatusSuccess,
			wantMessage: "welcome",
		},
		{
			name:        "json failure with msg",
			body:        `{"success": false, "msg": "bad password"}`,
			wantStatus:  StatusFailure,
			wantMessage: "bad password",
		},
		{
			name:        "json failure without msg",
			body:        `{"success": false}`,
			wantStatus:  StatusFailure,
			wantMessage: "unknown error",
		},
		{
			name:        "json missing success field",
			body:        `{"code": 200}`,
			wantStatus:  StatusFailure,
			wantMessage: "unknown error",
		},
		{
			name:        "json string success flag",
			body:        `{"success": "true", "msg": "ok"}`,
			wantStatus:  StatusSuccess,
			wantMessage: "ok",
		},
		{
			name:        "json numeric success flag",
			body:        `{"success": 1}`,
			wantStatus:  StatusSuccess,
			wantMessage: "",
		},
		{
			name:        "json zero success flag",
			body:        `{"success": 0, "msg": "denied"}`,
			wantStatus:  StatusFailure,
			wantMessage: "denied",
		},
		{
			name:        "text logon success",
			body:        "Logon Success!",
			wantStatus:  StatusSuccess,
			wantMessage: "login succeeded",
		},
		{
			name:        "text success case insensitive",
			body:        "<b>SUCCESS</b>",
			wantStatus:  StatusSuccess,
			wantMessage: "login succeeded",
		},
		{
			name:        "text failure short body",
			body:        "<html>error</html>",
			wantStatus:  StatusFailure,
			wantMessage: "<html>error</html>",
		},
		{
			name:        "text failure truncated",
			body:        longBody,
			wantStatus:  StatusFailure,
			wantMessage: longBody[:100],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := classify([]byte(tt.body))
			if outcome.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s", tt.wantStatus, outcome.Status)
			}
			if outcome.Message != tt.wantMessage {
				t.Fatalf("expected message %q, got %q", tt.wantMessage, outcome.Message)
			}
		})
	}
}

func TestTruncateRespectsRunes(t *testing.T) {
	body := strings.Repeat("网", 150)
	got := truncate(body, 100)
	if got != strings.Repeat("网", 100) {
		t.Fatalf("expected 100 runes, got %d", len([]rune(got)))
	}
}
