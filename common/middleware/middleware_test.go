package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/ratelimit"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, GetUserID(c))
	}, mw)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireUser_Header(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := serve(t, RequireUser(HeaderAuthenticator()), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, "alice")
	rec = serve(t, RequireUser(HeaderAuthenticator()), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestRequireUser_RejectsPathLikeIDs(t *testing.T) {
	for _, id := range []string{"../alice", "alice/..", "..", "a%2Fb"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserHeader, id)
		rec := serve(t, RequireUser(HeaderAuthenticator()), req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, id)

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserHeader, id)
		rec = serve(t, ExtractUser(HeaderAuthenticator()), req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, id)
	}
}

func TestExtractUser_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := serve(t, ExtractUser(HeaderAuthenticator()), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestJWTAuthenticator(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", "kyx")
	token, err := issuer.Issue("bob", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(t, RequireUser(JWTAuthenticator(issuer)), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", rec.Body.String())

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenIssuer("other", "kyx").Issue("bob", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		rec := serve(t, RequireUser(JWTAuthenticator(issuer)), req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := issuer.Issue("bob", -time.Minute)
		require.NoError(t, err)
		_, err = issuer.Validate(expired)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok, err := NewTokenIssuer("s3cret", "someone-else").Issue("bob", time.Hour)
		require.NoError(t, err)
		_, err = issuer.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := serve(t, ExtractUser(JWTAuthenticator(issuer)), req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireBuildSecret(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"match", "abc", "abc", http.StatusOK},
		{"mismatch", "abc", "abd", http.StatusUnauthorized},
		{"missing", "abc", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.sent != "" {
				req.Header.Set(BuildSecretHeader, tc.sent)
			}
			rec := serve(t, RequireBuildSecret(tc.configured), req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestUserRateLimit(t *testing.T) {
	e := echo.New()
	limiter := ratelimit.NewMemoryLimiter()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		RequireUser(HeaderAuthenticator()),
		UserRateLimit(limiter, 2, time.Minute, logger.Discard()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(UserHeader, "carol")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
