package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meetscribe-server/internal/platform/errors"
)

var (
	ErrNoSecret     = errors.New(errors.KindConfig, "auth.token", "token secret is empty")
	ErrInvalidToken = errors.New(errors.KindTransport, "auth.verify", "invalid token")
)

// Claims identifies the client a handshake token was issued to.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// AuthToken signs and verifies client scoped HS256 tokens.
type AuthToken struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewAuthToken(secretKey string) *AuthToken {
	return &AuthToken{
		secretKey: []byte(secretKey),
		ttl:       time.Hour,
		now:       time.Now,
	}
}

// WithTTL sets how long issued tokens stay valid.
func (at *AuthToken) WithTTL(ttl time.Duration) *AuthToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// GenerateToken issues a token for clientID.
func (at *AuthToken) GenerateToken(clientID string) (string, error) {
	if len(at.secretKey) == 0 {
		return "", ErrNoSecret
	}
	now := at.now()
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(at.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(at.secretKey)
	if err != nil {
		return "", errors.Wrap(errors.KindPlatform, "auth.generate", "failed to sign token", err)
	}
	return signed, nil
}

// VerifyToken validates tokenString and returns the client id it carries.
// A "Bearer " prefix is accepted.
func (at *AuthToken) VerifyToken(tokenString string) (string, error) {
	const op = "auth.verify"
	if len(at.secretKey) == 0 {
		return "", ErrNoSecret
	}
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return "", errors.Annotate(errors.KindTransport, op, "missing token", ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return at.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(at.now))
	if err != nil {
		return "", errors.Annotate(errors.KindTransport, op, err.Error(), ErrInvalidToken)
	}
	if claims.ClientID == "" {
		return "", errors.Annotate(errors.KindTransport, op, "token has no client_id", ErrInvalidToken)
	}
	return claims.ClientID, nil
}
