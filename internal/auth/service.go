package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 12 * time.Hour

// Service issues and validates per-session tokens. A token lets its holder
// push positions, headings and source errors into one tracking session.
type Service struct {
	secret []byte
	ttl    time.Duration
}

type Claims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (s *Service) IssueSessionToken(sessionID string) (string, error) {
	return s.signToken(sessionID, s.ttl)
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := parseToken(s.secret, token)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

func (s *Service) signToken(sessionID string, ttl time.Duration) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func parseToken(secret []byte, token string) (*Claims, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

var parseClaimsFn = jwt.ParseWithClaims
