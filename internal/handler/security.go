package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v4"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/auth"
)

const accessTokenType = "access"

// Claims is the payload of an access token. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier authenticates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier returns a verifier for tokens signed with secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify parses raw and returns the identity it carries.
func (v *TokenVerifier) Verify(raw string) (auth.Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.Identity{}, apperr.New(apperr.TokenExpired, "access token has expired")
	case err != nil:
		return auth.Identity{}, apperr.New(apperr.TokenInvalid, "access token is invalid")
	}

	id := auth.Identity{UserID: claims.Subject, Role: auth.Role(claims.Role)}
	if id.UserID == "" || !id.Role.Valid() {
		return auth.Identity{}, apperr.New(apperr.TokenInvalid, "access token is missing subject or role")
	}
	if claims.Type != "" && claims.Type != accessTokenType {
		return auth.Identity{}, apperr.Errorf(apperr.TokenInvalid, "%s token cannot be used for API access", claims.Type)
	}
	return id, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller identity in the request context.
func (v *TokenVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, r, apperr.New(apperr.TokenInvalid, "bearer token required"))
				return
			}
			id, err := v.Verify(raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// SignToken issues an access token for id valid for ttl from now.
func SignToken(secret []byte, id auth.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: string(id.Role),
		Type: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
