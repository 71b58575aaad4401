package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/l0kol/IPledge/internal/ports"
)

// HMACTokenVerifier validates HS256 bearer tokens minted by the platform's
// auth service. It can also sign, for local tooling and tests.
type HMACTokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewHMACTokenVerifier(secret, issuer string) (*HMACTokenVerifier, error) {
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("jwt hmac secret must be at least 16 characters")
	}
	return &HMACTokenVerifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

type fundingClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (v *HMACTokenVerifier) Sign(claims ports.AuthClaims, issuedAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, fundingClaims{
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	return token.SignedString(v.secret)
}

func (v *HMACTokenVerifier) Verify(raw string) (ports.AuthClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &fundingClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return ports.AuthClaims{}, err
	}
	claims, ok := parsed.Claims.(*fundingClaims)
	if !ok || !parsed.Valid {
		return ports.AuthClaims{}, errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.Role) == "" {
		return ports.AuthClaims{}, errors.New("token missing sub or role")
	}
	out := ports.AuthClaims{SubjectID: claims.Subject, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

var _ ports.TokenVerifier = (*HMACTokenVerifier)(nil)
