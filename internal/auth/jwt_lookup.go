package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/LabShare/services/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var ErrNoVerificationKey = errors.New("jwt lookup requires a secret or a key set")

// UserClaims are the claims JWTLookup maps onto a user. The subject is the user ID.
type UserClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// JWTLookupConfig configures local token verification.
type JWTLookupConfig struct {
	// Secret verifies HS256 tokens.
	Secret []byte
	// KeySet verifies ES256 tokens by kid.
	KeySet *KeySet
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string
}

// JWTLookup resolves tokens locally by verifying them as signed JWTs.
type JWTLookup struct {
	cfg     JWTLookupConfig
	methods []string
}

// NewJWTLookup creates a JWT lookup. At least one of Secret or KeySet is required.
func NewJWTLookup(cfg JWTLookupConfig) (*JWTLookup, error) {
	var methods []string
	if len(cfg.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.KeySet != nil {
		methods = append(methods, jwt.SigningMethodES256.Alg())
	}
	if len(methods) == 0 {
		return nil, ErrNoVerificationKey
	}

	return &JWTLookup{cfg: cfg, methods: methods}, nil
}

// AuthenticateUser implements Lookup. Tokens that fail verification are
// INVALID_RESPONSE, key set failures are LOOKUP_FAILED.
func (l *JWTLookup) AuthenticateUser(ctx context.Context, token string) (*models.User, error) {
	var keyErr error

	keyFunc := func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return l.cfg.Secret, nil
		case *jwt.SigningMethodECDSA:
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid header")
			}
			key, err := l.cfg.KeySet.Key(ctx, kid)
			if err != nil {
				keyErr = err
				return nil, err
			}
			return key, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(l.methods),
		jwt.WithExpirationRequired(),
	}
	if l.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(l.cfg.Issuer))
	}
	if l.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(l.cfg.Audience))
	}

	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	if keyErr != nil {
		return nil, LookupFailed("failed to load verification key", keyErr)
	}
	if err != nil {
		return nil, InvalidResponse(tokenErrorMessage(err), err)
	}

	if claims.Subject == "" {
		return nil, InvalidResponse("token missing subject", nil)
	}

	return &models.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
		Roles: claims.Roles,
	}, nil
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not valid yet"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid token signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "token not issued for this service"
	default:
		return "invalid token"
	}
}
