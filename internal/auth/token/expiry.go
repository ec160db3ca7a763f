package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token carries no usable exp claim.
var ErrNoExpiry = errors.New("token: no exp claim")

// ExpiryExtractor reads the expiry instant out of an access token.
type ExpiryExtractor interface {
	Expiry(accessToken string) (time.Time, error)
}

// ExpiryFunc adapts a function to ExpiryExtractor.
type ExpiryFunc func(accessToken string) (time.Time, error)

func (f ExpiryFunc) Expiry(accessToken string) (time.Time, error) { return f(accessToken) }

// JWTExpiry decodes the token without verifying its signature and returns the exp claim.
// The backend verifies signatures; the client only needs the claim to schedule refreshes.
var JWTExpiry ExpiryExtractor = ExpiryFunc(func(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
})

// TimeUntilExpiryFromJWT returns the whole minutes left before the token's exp claim,
// rounded down, or false when the token cannot be decoded.
func TimeUntilExpiryFromJWT(accessToken string, now time.Time) (int, bool) {
	exp, err := JWTExpiry.Expiry(accessToken)
	if err != nil {
		return 0, false
	}
	return wholeMinutes(exp.Sub(now)), true
}

func wholeMinutes(d time.Duration) int {
	m := d / time.Minute
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return int(m)
}
