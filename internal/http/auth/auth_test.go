package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paylinehq/payline/internal/http/auth"
)

func newProtectedServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()

	handler := auth.Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func signToken(t *testing.T, secret string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	return signed
}

func TestMiddleware(t *testing.T) {
	srv := newProtectedServer(t, "test-secret")

	get := func(t *testing.T, authorization string) *http.Response {
		t.Helper()

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })

		return resp
	}

	t.Run("ValidToken", func(t *testing.T) {
		resp := get(t, "Bearer "+signToken(t, "test-secret"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("MissingToken", func(t *testing.T) {
		resp := get(t, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		resp := get(t, "Bearer "+signToken(t, "other-secret"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("NotBearer", func(t *testing.T) {
		resp := get(t, "Token abc")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
