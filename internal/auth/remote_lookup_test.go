package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoteLookup(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		contentType     string
		body            string
		expectedUserID  string
		expectedCode    string
		expectedMessage string
	}{
		{
			name:           "user",
			status:         http.StatusOK,
			contentType:    "application/json",
			body:           `{"id":"u-1","email":"ada@example.com","roles":["admin"],"attributes":{"lab":"neuro"}}`,
			expectedUserID: "u-1",
		},
		{
			name:            "rejected with error field",
			status:          http.StatusUnauthorized,
			contentType:     "application/json",
			body:            `{"error":"bad token"}`,
			expectedCode:    ErrCodeInvalidResponse,
			expectedMessage: "bad token",
		},
		{
			name:            "rejected with message field",
			status:          http.StatusForbidden,
			contentType:     "application/json",
			body:            `{"message":"account disabled"}`,
			expectedCode:    ErrCodeInvalidResponse,
			expectedMessage: "account disabled",
		},
		{
			name:            "rejected with plain text",
			status:          http.StatusUnauthorized,
			contentType:     "text/plain",
			body:            "token expired",
			expectedCode:    ErrCodeInvalidResponse,
			expectedMessage: "token expired",
		},
		{
			name:            "rejected with html",
			status:          http.StatusNotFound,
			contentType:     "text/html",
			body:            "<html>not found</html>",
			expectedCode:    ErrCodeInvalidResponse,
			expectedMessage: "Not Found",
		},
		{
			name:         "server error",
			status:       http.StatusBadGateway,
			body:         `{"error":"upstream"}`,
			expectedCode: ErrCodeLookupFailed,
		},
		{
			name:            "undecodable user",
			status:          http.StatusOK,
			contentType:     "application/json",
			body:            `not json`,
			expectedCode:    ErrCodeInvalidResponse,
			expectedMessage: "invalid user response",
		},
		{
			name:            "user without id",
			status:          http.StatusOK,
			contentType:     "application/json",
			body:            `{"email":"ada@example.com"}`,
			expectedCode:    ErrCodeInvalidResponse,
			expectedMessage: "user response missing id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			user, err := NewRemoteLookup(srv.URL, nil).AuthenticateUser(context.Background(), "token-123")

			if tt.expectedCode == "" {
				require.NoError(t, err)
				require.Equal(t, tt.expectedUserID, user.ID)
				require.Equal(t, []string{"admin"}, user.Roles)
				require.Equal(t, "neuro", user.Attributes["lab"])
				return
			}

			require.Nil(t, user)
			var lerr *LookupError
			require.ErrorAs(t, err, &lerr)
			require.Equal(t, tt.expectedCode, lerr.Code)
			if tt.expectedMessage != "" {
				require.Equal(t, tt.expectedMessage, lerr.Message)
			}
		})
	}
}

func TestRemoteLookup_transportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRemoteLookup(url, nil).AuthenticateUser(context.Background(), "token-123")

	var lerr *LookupError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrCodeLookupFailed, lerr.Code)
	require.NotNil(t, lerr.Unwrap())

	_, ok := AsInvalidResponse(err)
	require.False(t, ok)
}

func TestLookupError(t *testing.T) {
	err := InvalidResponse("bad token", nil)
	require.Equal(t, "INVALID_RESPONSE: bad token", err.Error())

	lerr, ok := AsInvalidResponse(err)
	require.True(t, ok)
	require.Same(t, err, lerr)

	wrapped := LookupFailed("down", context.DeadlineExceeded)
	require.ErrorIs(t, wrapped, context.DeadlineExceeded)
	require.Equal(t, "LOOKUP_FAILED: down: context deadline exceeded", wrapped.Error())
}
