package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RichardoC/nutra/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token expired")
)

// Claims is the payload of a Supabase access token.
type Claims struct {
	Email        string `json:"email"`
	Role         string `json:"role"`
	UserMetadata struct {
		FullName string `json:"full_name"`
	} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// TokenVerifier validates access tokens locally with the project's JWT secret
// when one is configured and asks the identity provider otherwise.
type TokenVerifier struct {
	secret   []byte
	provider Provider
	leeway   time.Duration
	now      func() time.Time
}

func NewTokenVerifier(secret string, provider Provider) *TokenVerifier {
	v := &TokenVerifier{provider: provider, leeway: 5 * time.Second, now: time.Now}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// Verify returns the token's user and expiry. The expiry is zero when the
// token was checked remotely.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*models.User, time.Time, error) {
	if token == "" {
		return nil, time.Time{}, ErrInvalidToken
	}
	if len(v.secret) == 0 {
		if v.provider == nil {
			return nil, time.Time{}, errors.New("no token verification method configured")
		}
		user, err := v.provider.GetUser(ctx, token)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Unauthorized() {
				return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
			}
			return nil, time.Time{}, err
		}
		return user, time.Time{}, nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, time.Time{}, ErrTokenExpired
		}
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, time.Time{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	user := &models.User{
		ID:       claims.Subject,
		Email:    claims.Email,
		FullName: claims.UserMetadata.FullName,
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return user, exp, nil
}
