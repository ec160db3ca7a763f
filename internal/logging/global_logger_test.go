package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestLogFormatter(t *testing.T) {
	t.Parallel()

	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 10, 18, 20, 14, 4, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "callback processed\n",
		Data: log.Fields{
			"request_id": "a1b2c3d4",
			"mode":       "login",
			"provider":   "google",
			"code":       "4/0AbCdEfGhIjKlMn",
			"attempt":    2,
		},
	}
	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "[2026-10-18 20:14:04] [a1b2c3d4] [warn ] callback processed provider=google mode=login attempt=2 code=4/0A...KlMn\n"
	if got := string(out); got != want {
		t.Fatalf("Format() = %q", got)
	}
}
