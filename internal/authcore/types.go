package authcore

import "github.com/tidwall/gjson"

// LoginRequest is the body of POST /api/v1/auth/login. Social logins send AuthCode and
// CodeVerifier; email logins send Email and VerifyCode.
type LoginRequest struct {
	Provider     string `json:"provider"`
	Email        string `json:"email,omitempty"`
	VerifyCode   string `json:"verifyCode,omitempty"`
	AuthCode     string `json:"authCode,omitempty"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
}

// Session is what login and refresh hand back.
type Session struct {
	AccessToken string
	// ExpiredAt is epoch milliseconds, 0 when the backend omitted it.
	ExpiredAt int64
	User      *UserInfo
}

// UserInfo is the signed-in user as the backend describes it.
type UserInfo struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Nickname  string   `json:"nickname"`
	Providers []string `json:"providers,omitempty"`
}

// Empty is the value of calls that only report success.
type Empty struct{}

// payload returns the envelope's data object, or the document itself when the backend
// answers without an envelope.
func payload(doc gjson.Result) gjson.Result {
	if data := doc.Get("data"); data.Exists() && data.IsObject() {
		return data
	}
	return doc
}

func parseSession(doc gjson.Result) (Session, bool) {
	data := payload(doc)
	access := data.Get("accessToken").String()
	if access == "" {
		access = data.Get("access_token").String()
	}
	if access == "" {
		return Session{}, false
	}
	s := Session{AccessToken: access, ExpiredAt: data.Get("expiredAt").Int()}
	if user := data.Get("user"); user.IsObject() {
		u := parseUser(user)
		s.User = &u
	}
	return s, true
}

func parseUser(data gjson.Result) UserInfo {
	u := UserInfo{
		ID:       data.Get("id").String(),
		Email:    data.Get("email").String(),
		Nickname: data.Get("nickname").String(),
	}
	for _, p := range data.Get("providers").Array() {
		u.Providers = append(u.Providers, p.String())
	}
	return u
}
