package browser

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestOpenOrShow(t *testing.T) {
	t.Parallel()
	const url = "https://accounts.google.com/o/oauth2/auth?state=x"

	tests := []struct {
		name     string
		openErr  error
		copyErr  error
		wantOK   bool
		wantText string
	}{
		{name: "opened", wantOK: true, wantText: "Opened your browser"},
		{name: "clipboard", openErr: ErrNoBrowser, wantText: "copied to your clipboard"},
		{name: "printed", openErr: ErrNoBrowser, copyErr: errors.New("no clipboard"), wantText: "Open this URL"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			var copied string
			l := &Launcher{
				Open: func(string) error { return tt.openErr },
				Copy: func(s string) error { copied = s; return tt.copyErr },
				Out:  &out,
			}
			if got := l.OpenOrShow(url); got != tt.wantOK {
				t.Fatalf("OpenOrShow = %v, want %v", got, tt.wantOK)
			}
			if !strings.Contains(out.String(), tt.wantText) || !strings.Contains(out.String(), url) {
				t.Fatalf("output = %q", out.String())
			}
			if tt.openErr != nil && copied != url {
				t.Fatalf("copied = %q", copied)
			}
		})
	}
}
