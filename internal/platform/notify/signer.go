package notify

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sign returns the bearer token the notification API expects: an HS256 JWT
// issued by the service id, signed with the API key.
func Sign(serviceID, apiKey string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   serviceID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiKey))
}
