// Package browser opens provider authorization URLs in the user's default browser. When no
// browser can be started the URL is copied to the clipboard and printed instead.
package browser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// ErrNoBrowser is returned when neither the default handler nor a known browser command works.
var ErrNoBrowser = errors.New("browser: no way to open a browser on this system")

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// Launcher opens URLs. The zero value uses open-golang and the platform commands.
type Launcher struct {
	// Open overrides the default opener.
	Open func(url string) error
	// Copy overrides the clipboard writer.
	Copy func(text string) error
	// Out receives the manual instructions, os.Stdout when nil.
	Out io.Writer
}

// Default is the Launcher used by OpenURL.
var Default = &Launcher{}

// OpenURL opens url with the default launcher.
func OpenURL(url string) error { return Default.OpenURL(url) }

// OpenURL opens url in a browser.
func (l *Launcher) OpenURL(url string) error {
	if l.Open != nil {
		return l.Open(url)
	}
	err := open.Run(url)
	if err == nil {
		log.Debug("opened URL with the default handler")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

// OpenOrShow tries to open url and falls back to the clipboard plus printed instructions.
// It returns true when a browser was started.
func (l *Launcher) OpenOrShow(url string) bool {
	out := l.Out
	if out == nil {
		out = os.Stdout
	}
	errOpen := l.OpenURL(url)
	if errOpen == nil {
		_, _ = fmt.Fprintf(out, "Opened your browser to continue signing in.\nIf nothing happened, visit:\n%s\n", url)
		return true
	}
	log.WithError(errOpen).Warn("could not open browser")

	copyFn := l.Copy
	if copyFn == nil {
		copyFn = clipboard.WriteAll
	}
	if err := copyFn(url); err == nil {
		_, _ = fmt.Fprintf(out, "Could not open a browser. The sign-in URL was copied to your clipboard:\n%s\n", url)
	} else {
		log.WithError(err).Debug("clipboard unavailable")
		_, _ = fmt.Fprintf(out, "Could not open a browser. Open this URL to continue signing in:\n%s\n", url)
	}
	return false
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				cmd = exec.Command(browser, url)
				break
			}
		}
		if cmd == nil {
			return ErrNoBrowser
		}
	default:
		return fmt.Errorf("%w: unsupported operating system %s", ErrNoBrowser, runtime.GOOS)
	}

	log.Debugf("running command: %s %v", cmd.Path, cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

// IsAvailable reports whether a browser command exists for this platform.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				return true
			}
		}
	}
	return false
}
