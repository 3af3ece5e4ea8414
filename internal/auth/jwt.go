package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the claims in our JWT token. VendorAPIKey lets
// a caller bring their own vendor credential for the session.
type JWTClaims struct {
	UserID       string `json:"user_id"`
	VendorAPIKey string `json:"vendor_api_key,omitempty"`
	jwt.RegisteredClaims
}

// Validator checks bearer tokens against a shared secret. An empty
// secret disables validation entirely; every caller is anonymous then.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for the given secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Enabled reports whether tokens are required.
func (v *Validator) Enabled() bool {
	return len(v.secret) > 0
}

// GenerateToken signs a token for a user, mainly for tests and local
// tooling.
func (v *Validator) GenerateToken(userID, vendorAPIKey string, ttl time.Duration) (string, error) {
	claims := &JWTClaims{
		UserID:       userID,
		VendorAPIKey: vendorAPIKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (v *Validator) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrInvalidKey
}
