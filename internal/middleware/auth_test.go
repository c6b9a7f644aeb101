package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func issueToken(t *testing.T, secret, accountID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": accountID,
		"role":       role,
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "auth-test-secret")
	defer viper.Set("jwt.secret_key", "")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := AccountID(r)
		assert.True(t, ok)
		assert.Equal(t, "acct-1", accountID)
		assert.Equal(t, "investor", Role(r))
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(next)

	t.Run("valid token attaches claims", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet", nil)
		r.Header.Set("Authorization", "Bearer "+issueToken(t, "auth-test-secret", "acct-1", "investor"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet", nil)
		r.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token without account_id claim", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"role": "investor",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("auth-test-secret"))
		assert.NoError(t, err)

		r := httptest.NewRequest("GET", "/wallet", nil)
		r.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token signed with wrong secret", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/wallet", nil)
		r.Header.Set("Authorization", "Bearer "+issueToken(t, "other-secret", "acct-1", "investor"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireApprover(t *testing.T) {
	viper.Set("jwt.secret_key", "auth-test-secret")
	defer viper.Set("jwt.secret_key", "")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(RequireApprover(next))

	t.Run("approver role passes", func(t *testing.T) {
		r := httptest.NewRequest("PUT", "/admin/withdrawals/wr-1/approve", nil)
		r.Header.Set("Authorization", "Bearer "+issueToken(t, "auth-test-secret", "acct-admin", "approver"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("admin role passes", func(t *testing.T) {
		r := httptest.NewRequest("PUT", "/admin/withdrawals/wr-1/approve", nil)
		r.Header.Set("Authorization", "Bearer "+issueToken(t, "auth-test-secret", "acct-admin", "admin"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("investor role forbidden", func(t *testing.T) {
		r := httptest.NewRequest("PUT", "/admin/withdrawals/wr-1/approve", nil)
		r.Header.Set("Authorization", "Bearer "+issueToken(t, "auth-test-secret", "acct-1", "investor"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
