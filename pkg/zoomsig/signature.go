// Package zoomsig generates the short-lived signed JWT the Zoom Meeting SDK
// requires to authenticate a join (§4.2.3).
package zoomsig

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingCredentials is returned when the client id or secret is empty.
var ErrMissingCredentials = errors.New("zoomsig: client id and secret are required")

// defaultTTL matches the SDK's recommended short validity window for join
// signatures.
const defaultTTL = 2 * time.Hour

// claims mirrors the Zoom Meeting SDK's expected JWT payload shape.
type claims struct {
	AppKey   string `json:"appKey"`
	MeetingNumber string `json:"mn"`
	Role     int    `json:"role"`
	jwt.RegisteredClaims
}

// Sign produces a signed JWT authorizing clientID to join meetingNumber
// with the given SDK role (0 = attendee), valid for ttl (defaultTTL if
// ttl <= 0).
func Sign(clientID, clientSecret, meetingNumber string, role int, ttl time.Duration) (string, error) {
	if clientID == "" || clientSecret == "" {
		return "", ErrMissingCredentials
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now()
	c := claims{
		AppKey:        clientID,
		MeetingNumber: meetingNumber,
		Role:          role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(clientSecret))
}
