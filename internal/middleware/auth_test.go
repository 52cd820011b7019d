package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAuth(t *testing.T, secret, header string) (*httptest.ResponseRecorder, string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	err := AuthMiddleware(secret)(func(c echo.Context) error {
		seen = UserID(c)
		return c.NoContent(http.StatusNoContent)
	})(c)
	return rec, seen, err
}

func TestAuthMiddleware(t *testing.T) {
	token, err := GenerateToken("s3cret", "user-9", time.Hour)
	require.NoError(t, err)

	rec, userID, err := runAuth(t, "s3cret", "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-9", userID)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	valid, err := GenerateToken("s3cret", "user-9", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken("s3cret", "user-9", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"no header", "s3cret", ""},
		{"wrong scheme", "s3cret", "Basic " + valid},
		{"wrong secret", "other", "Bearer " + valid},
		{"expired", "s3cret", "Bearer " + expired},
		{"no secret configured", "", "Bearer " + valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, userID, err := runAuth(t, tt.secret, tt.header)
			var httpErr *echo.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
			assert.Empty(t, userID)
		})
	}
}
