package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is the iss claim of portal session tokens.
const DefaultIssuer = "airfi-guest-portal"

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("auth: invalid session token")

// Claims identifies a login session for the client that holds the token.
type Claims struct {
	SessionID    string `json:"sid"`
	MobileNumber string `json:"mobile"`
	MACAddress   string `json:"mac,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies session tokens with ES256.
type TokenService struct {
	keys   *KeyPair
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service. A non-positive ttl means 24h.
func NewTokenService(keys *KeyPair, issuer string, ttl time.Duration) *TokenService {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{keys: keys, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for a recorded session.
func (s *TokenService) Issue(sessionID, mobile, mac string) (string, error) {
	now := s.now()
	claims := &Claims{
		SessionID:    sessionID,
		MobileNumber: mobile,
		MACAddress:   mac,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   mobile,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.keys.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature, issuer and validity window.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.keys.PublicKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
