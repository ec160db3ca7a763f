package api

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/growgrammers/authflow/internal/auth/status"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/provider"
)

const pageShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{TITLE}} - authflow</title>
{{REFRESH}}
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 32rem; margin: 4rem auto; color: #222; }
a.button { display: block; margin: .5rem 0; padding: .75rem 1rem; border: 1px solid #ccc; border-radius: 6px; text-decoration: none; color: inherit; }
.notice { padding: .75rem 1rem; background: #fff4e5; border-radius: 6px; }
</style>
</head>
<body>
<h1>{{TITLE}}</h1>
{{BODY}}
</body>
</html>
`

func renderPage(c *gin.Context, status int, page string) {
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}

func buildPage(title, body, refreshTo string, delay time.Duration) string {
	refresh := ""
	if refreshTo != "" {
		refresh = fmt.Sprintf(`<meta http-equiv="refresh" content="%d;url=%s">`, int(delay.Seconds()), html.EscapeString(refreshTo))
	}
	page := strings.Replace(pageShell, "{{TITLE}}", html.EscapeString(title), -1)
	page = strings.Replace(page, "{{REFRESH}}", refresh, 1)
	return strings.Replace(page, "{{BODY}}", body, 1)
}

func loginPage(message string) string {
	var b strings.Builder
	if message != "" {
		fmt.Fprintf(&b, "<p class=\"notice\">%s</p>\n", html.EscapeString(message))
	}
	for _, p := range provider.Priority {
		fmt.Fprintf(&b, "<a class=\"button\" href=\"/auth/%s/start\">Continue with %s</a>\n", p, html.EscapeString(p.DisplayName()))
	}
	b.WriteString("<p>Or sign in with an emailed code: <code>authflow -email you@example.com</code></p>\n")
	return buildPage("Sign in", b.String(), "", 0)
}

func messagePage(title, message, next string, delay time.Duration) string {
	body := fmt.Sprintf("<p>%s</p>\n<p><a href=\"%s\">Continue</a></p>\n", html.EscapeString(message), html.EscapeString(next))
	return buildPage(title, body, next, delay)
}

func dashboardPage(user authcore.UserInfo, st status.Status, linked string) string {
	var b strings.Builder
	if linked != "" {
		name := linked
		if p, err := provider.Parse(linked); err == nil {
			name = p.DisplayName()
		}
		fmt.Fprintf(&b, "<p class=\"notice\">%s account linked.</p>\n", html.EscapeString(name))
	}
	display := user.Nickname
	if display == "" {
		display = user.Email
	}
	fmt.Fprintf(&b, "<p>Signed in as <strong>%s</strong></p>\n", html.EscapeString(display))
	if len(user.Providers) > 0 {
		fmt.Fprintf(&b, "<p>Linked providers: %s</p>\n", html.EscapeString(strings.Join(user.Providers, ", ")))
	}
	if st.MinutesUntilExpiry != nil {
		fmt.Fprintf(&b, "<p>Access token expires in %d minutes.</p>\n", *st.MinutesUntilExpiry)
	}
	for _, p := range provider.Priority {
		fmt.Fprintf(&b, "<a class=\"button\" href=\"/auth/%s/start?mode=link\">Link %s</a>\n", p, html.EscapeString(p.DisplayName()))
	}
	b.WriteString("<form method=\"post\" action=\"/auth/logout\"><button type=\"submit\">Sign out</button></form>\n")
	return buildPage("Dashboard", b.String(), "", 0)
}

