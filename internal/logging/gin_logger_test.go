package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
		if err != http.ErrAbortHandler {
			t.Fatalf("expected exact ErrAbortHandler sentinel, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"mode=link", "mode=link"},
		{"code=abc&state=xyz", "code=%2A%2A%2A&state=%2A%2A%2A"},
		{"code=abc&scope=email", "code=%2A%2A%2A&scope=email"},
	}
	for _, tt := range tests {
		if got := MaskSensitiveQuery(tt.in); got != tt.want {
			t.Errorf("MaskSensitiveQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGinLogrusLoggerTagsAuthRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	var seen string
	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/auth/google/callback", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusFound)
	})
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=secret&state=s1", nil))
	if len(seen) != 8 {
		t.Fatalf("expected 8-char request id in handler context, got %q", seen)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Data["request_id"] != seen {
		t.Fatalf("log entry missing request id: %#v", entry)
	}
	if strings.Contains(entry.Message, "secret") {
		t.Fatalf("authorization code leaked into log line: %s", entry.Message)
	}

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if _, ok := hook.LastEntry().Data["request_id"]; ok {
		t.Fatal("non-auth path must not carry a request id")
	}
}
