package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by bearer tokens minted by the account service.
type Claims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// TokenVerifier turns a bearer token into the caller's identity. Tokens are
// HS256-signed; the subject is the numeric user id.
type TokenVerifier struct {
	jwtSecret []byte // Stored in env (JWT_SECRET)
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		jwtSecret: []byte(secret),
	}
}

// Validates a JWT token and returns the identity it names
func (v *TokenVerifier) Verify(tokenString string) (models.Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.jwtSecret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}

	tier, err := models.ParseTier(claims.Tier)
	if err != nil {
		tier = models.TierFree
	}

	return models.Identity{UserID: userID, Tier: tier}, nil
}

// Issue signs a token for id. Used by tooling and tests; production tokens
// come from the account service.
func (v *TokenVerifier) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Tier: id.Tier.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	tokenString, err := token.SignedString(v.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}
