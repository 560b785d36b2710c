// Package auth provides JWT-based admin authentication, bcrypt password
// hashing, and TOTP two-factor support.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clientpix/clientpix/internal/metrics"
)

type contextKey string

const adminContextKey contextKey = "admin"

const (
	// Access tokens live a week; the pending token issued between password
	// check and 2FA verification lives five minutes.
	accessTokenTTL  = 7 * 24 * time.Hour
	pendingTokenTTL = 5 * time.Minute

	typeAccess     = "access"
	type2FAPending = "2fa_pending"
)

// Claims holds JWT token claims for an admin session.
type Claims struct {
	Email     string `json:"email,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// AdminID returns the admin ID carried in the subject claim.
func (c *Claims) AdminID() string {
	return c.Subject
}

// Auth signs and validates admin tokens.
type Auth struct {
	secret []byte
}

// New creates an Auth with the given signing secret.
func New(jwtSecret string) *Auth {
	return &Auth{secret: []byte(jwtSecret)}
}

// IssueAccessToken creates a full session token for an admin. Returns the
// token and its lifetime in seconds.
func (a *Auth) IssueAccessToken(adminID, email string) (string, int64, error) {
	now := time.Now()
	claims := &Claims{
		Email:     email,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, int64(accessTokenTTL.Seconds()), nil
}

// IssuePendingToken creates the short-lived token handed out after a
// successful password check when 2FA is still outstanding.
func (a *Auth) IssuePendingToken(adminID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		TokenType: type2FAPending,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			ExpiresAt: jwt.NewNumericDate(now.Add(pendingTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateAccessToken verifies a full session token.
func (a *Auth) ValidateAccessToken(tokenStr string) (*Claims, error) {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != typeAccess {
		return nil, fmt.Errorf("not an access token")
	}
	return claims, nil
}

// ValidatePendingToken verifies a 2FA pending token and returns the
// admin ID it was issued for.
func (a *Auth) ValidatePendingToken(tokenStr string) (string, error) {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return "", err
	}
	if claims.TokenType != type2FAPending {
		return "", fmt.Errorf("not a 2fa token")
	}
	return claims.Subject, nil
}

func (a *Auth) parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware returns HTTP middleware that requires a valid access token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.ValidateAccessToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts admin claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(adminContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, adminContextKey, claims)
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback for download links
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q,"code":%d}`, message, code)
}
