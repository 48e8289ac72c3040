package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// CtxUserIDKey holds the authenticated user's ID in the Gin context.
	CtxUserIDKey = "userID"
	// HeaderUserID identifies the caller when token auth is disabled.
	HeaderUserID = "X-User-ID"
	// DemoUserID is used when token auth is disabled and no header is sent.
	DemoUserID = "demo-user"
)

// Claims is the token payload we read.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// EnsureUserFunc records the caller (e.g. upserts a users row). A failure
// aborts the request with 500.
type EnsureUserFunc func(ctx context.Context, p Principal) error

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 key. Empty disables token checks (development).
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Ensure is called once per authenticated request.
	Ensure EnsureUserFunc
}

var errMissingToken = errors.New("missing bearer token")

// Auth authenticates API requests with an HS256 bearer token. Without a
// configured secret it trusts X-User-ID and falls back to DemoUserID.
func Auth(opts AuthOptions) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if opts.Issuer != "" {
		parser = jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(opts.Issuer),
		)
	}
	key := []byte(opts.Secret)

	return func(c *gin.Context) {
		var p Principal
		if opts.Secret == "" {
			p.ID = strings.TrimSpace(c.GetHeader(HeaderUserID))
			if p.ID == "" {
				p.ID = DemoUserID
			}
		} else {
			claims, err := parseBearer(parser, key, c.GetHeader("Authorization"))
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("token rejected")
				abortError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
				return
			}
			p = Principal{ID: claims.Subject, Name: claims.Name, Email: claims.Email, Role: claims.Role}
		}

		if opts.Ensure != nil {
			if err := opts.Ensure(c.Request.Context(), p); err != nil {
				LoggerFrom(c).Error().Err(err).Str("user_id", p.ID).Msg("ensure user failed")
				abortError(c, http.StatusInternalServerError, "internal_error", "internal server error")
				return
			}
		}
		c.Set(CtxUserIDKey, p.ID)
		c.Next()
	}
}

func parseBearer(parser *jwt.Parser, key []byte, header string) (*Claims, error) {
	if len(header) <= 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return nil, errMissingToken
	}
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(strings.TrimSpace(header[7:]), claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// UserID returns the authenticated user's ID, or DemoUserID when Auth did
// not run.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(CtxUserIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DemoUserID
}
