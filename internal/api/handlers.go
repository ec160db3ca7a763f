package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/growgrammers/authflow/internal/api/middleware"
	"github.com/growgrammers/authflow/internal/auth/callback"
	"github.com/growgrammers/authflow/internal/auth/email"
	"github.com/growgrammers/authflow/internal/auth/nav"
	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/misc"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/internal/validate"
)

type emailCodeRequest struct {
	Email string `json:"email"`
}

type emailVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "error": msg})
}

func (s *Server) handleEntry(c *gin.Context) {
	if s.sess.IsAuthenticated(c.Request.Context()) {
		c.Redirect(http.StatusFound, nav.Dashboard.String())
		return
	}
	c.Redirect(http.StatusFound, nav.Login.String())
}

func (s *Server) handleLogin(c *gin.Context) {
	if middleware.WantsJSON(c) {
		providers := make([]gin.H, 0, len(provider.Priority))
		for _, p := range provider.Priority {
			providers = append(providers, gin.H{"provider": p, "name": p.DisplayName(), "start": "/auth/" + string(p) + "/start"})
		}
		c.JSON(http.StatusOK, gin.H{"providers": providers, "email": "/auth/email/code", "message": c.Query("message")})
		return
	}
	renderPage(c, http.StatusOK, loginPage(c.Query("message")))
}

func (s *Server) handleStart(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		errorJSON(c, http.StatusNotFound, "unsupported provider")
		return
	}
	mode, err := oauthstate.ParseMode(c.Query("mode"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "mode must be login or link")
		return
	}

	authURL, err := s.sess.StartOAuth(ctx, p, mode)
	switch {
	case errors.Is(err, provider.ErrMissingClientID):
		logging.Entry(ctx).WithField("provider", p).Error("OAuth client id is not configured")
		errorJSON(c, http.StatusInternalServerError, p.DisplayName()+" login is not configured.")
		return
	case errors.Is(err, callback.ErrLinkRequiresLogin):
		errorJSON(c, http.StatusUnauthorized, callback.GetUserFriendlyMessage(err))
		return
	case err != nil:
		logging.Entry(ctx).WithError(err).Error("failed to start OAuth flow")
		errorJSON(c, http.StatusInternalServerError, "failed to start login")
		return
	}
	if middleware.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "url": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

func (s *Server) handleCallback(c *gin.Context) {
	p, err := provider.Parse(c.Param("provider"))
	if err != nil {
		errorJSON(c, http.StatusNotFound, "unsupported provider")
		return
	}
	var form url.Values
	if c.Request.Method == http.MethodPost {
		if errParse := c.Request.ParseForm(); errParse == nil {
			form = c.Request.PostForm
		}
	}
	cb := misc.CallbackFromValues(c.Request.URL.Query(), form)
	out := s.sess.HandleCallback(c.Request.Context(), callback.Params{Provider: p, OAuthCallback: *cb})

	if out.Kind == callback.LinkSucceeded {
		s.linkedFlash.Store(string(p), struct{}{})
	}
	if middleware.WantsJSON(c) {
		status := http.StatusOK
		switch out.Kind {
		case callback.Failed, callback.ProviderError:
			status = http.StatusBadRequest
		case callback.StateRejected:
			status = http.StatusForbidden
		}
		c.JSON(status, out)
		return
	}
	if out.Message != "" && !out.Succeeded() {
		renderPage(c, http.StatusOK, messagePage("Sign-in failed", out.Message, destinationWithMessage(out.Destination, out.Message), out.Delay))
		return
	}
	c.Redirect(http.StatusFound, out.Destination.String())
}

func destinationWithMessage(dest nav.Destination, msg string) string {
	if dest != nav.Login {
		return dest.String()
	}
	return dest.String() + "?message=" + url.QueryEscape(msg)
}

func (s *Server) handleEmailCode(c *gin.Context) {
	var req emailCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.email.RequestCode(c.Request.Context(), req.Email); err != nil {
		s.emailError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleEmailVerify(c *gin.Context) {
	var req emailVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.email.Verify(c.Request.Context(), req.Email, req.Code); err != nil {
		s.emailError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "destination": nav.Complete})
}

func (s *Server) emailError(c *gin.Context, err error) {
	var userErr *email.UserError
	var validationErr *validate.Error
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "field": validationErr.Field, "error": validationErr.Message})
	case errors.Is(err, email.ErrCodeNotRequested):
		errorJSON(c, http.StatusConflict, "Please request a verification code first.")
	case errors.As(err, &userErr):
		status := http.StatusBadRequest
		if f, ok := authcore.AsFailure(err); ok {
			switch f.Kind {
			case authcore.KindRateLimited:
				status = http.StatusTooManyRequests
			case authcore.KindNetwork, authcore.KindTimeout:
				status = http.StatusBadGateway
			}
		}
		c.JSON(status, gin.H{"status": "error", "error": userErr.Message, "reset": errors.Is(err, email.ErrCodeExpired)})
	default:
		logging.Entry(c.Request.Context()).WithError(err).Error("email login failed")
		errorJSON(c, http.StatusInternalServerError, "Email login failed. Please try again.")
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, s.sess.Status(c.Request.Context()))
}

func (s *Server) handleRefresh(c *gin.Context) {
	if !s.sess.Refresh(c.Request.Context()) {
		errorJSON(c, http.StatusUnauthorized, "token refresh failed")
		return
	}
	c.JSON(http.StatusOK, s.sess.Status(c.Request.Context()))
}

func (s *Server) handleLogout(c *gin.Context) {
	resp := gin.H{"status": "ok", "destination": nav.Entry}
	if err := s.sess.Logout(c.Request.Context()); err != nil {
		resp["warning"] = "Signed out locally; the server could not be reached."
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleComplete(c *gin.Context) {
	if middleware.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "destination": nav.Dashboard})
		return
	}
	renderPage(c, http.StatusOK, messagePage("Signed in", "You are signed in. You can close this window.", nav.Dashboard.String(), 2*time.Second))
}

func (s *Server) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	if linked := strings.TrimSpace(c.Query("linked")); linked != "" {
		// The first visit after a link refetches the user; reloads of the same URL do not.
		if _, fresh := s.linkedFlash.LoadAndDelete(linked); fresh {
			if _, err := s.sess.UserInfo(ctx, true); err != nil {
				logging.Entry(ctx).WithError(err).Warn("failed to refetch user after link")
			}
		}
	}
	user, err := s.sess.UserInfo(ctx, false)
	if err != nil {
		if !s.sess.IsAuthenticated(ctx) {
			c.Redirect(http.StatusFound, nav.Login.String())
			return
		}
		errorJSON(c, http.StatusBadGateway, "could not load user info")
		return
	}
	st := s.sess.Status(ctx)
	if middleware.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"user": user, "status": st, "linked": c.Query("linked")})
		return
	}
	renderPage(c, http.StatusOK, dashboardPage(user, st, c.Query("linked")))
}
