package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id
	UserIDKey ContextKey = "user_id"

	// UserHeader carries the user id when AUTH_MODE=header
	UserHeader = "X-User-ID"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrInvalidUser  = errors.New("invalid user id")
)

// Claims are the JWT claims kyx-api accepts. The user id is the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 user tokens
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}
}

// Issue creates a token for userID valid for ttl
func (t *TokenIssuer) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate parses tokenString and returns its subject
func (t *TokenIssuer) Validate(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticator resolves the caller's user id from a request. An empty id
// with a nil error means the request is anonymous.
type Authenticator func(r *http.Request) (string, error)

// HeaderAuthenticator trusts the X-User-ID header set by the gateway
func HeaderAuthenticator() Authenticator {
	return func(r *http.Request) (string, error) {
		return strings.TrimSpace(r.Header.Get(UserHeader)), nil
	}
}

// JWTAuthenticator reads a Bearer token from the Authorization header
func JWTAuthenticator(issuer *TokenIssuer) Authenticator {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", nil
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", ErrInvalidToken
		}
		return issuer.Validate(strings.TrimSpace(parts[1]))
	}
}

// ExtractUser stores the user id in context when present. Anonymous requests
// pass through; a malformed credential is rejected.
func ExtractUser(authn Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := authn(c.Request())
			if err != nil {
				return unauthorized(c, err.Error())
			}
			if userID != "" {
				if !models.ValidOwnerID(userID) {
					return unauthorized(c, ErrInvalidUser.Error())
				}
				c.Set(string(UserIDKey), userID)
			}
			return next(c)
		}
	}
}

// RequireUser is ExtractUser that rejects anonymous requests with 401
func RequireUser(authn Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := authn(c.Request())
			if err != nil {
				return unauthorized(c, err.Error())
			}
			if userID == "" {
				return unauthorized(c, "authentication required")
			}
			if !models.ValidOwnerID(userID) {
				return unauthorized(c, ErrInvalidUser.Error())
			}
			c.Set(string(UserIDKey), userID)
			return next(c)
		}
	}
}

// GetUserID retrieves the user id from the request context.
// Returns empty string if not set.
func GetUserID(c echo.Context) string {
	userID, _ := c.Get(string(UserIDKey)).(string)
	return userID
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error":   "unauthorized",
		"message": message,
	})
}
