package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LabShare/services/internal/client"
	"github.com/LabShare/services/internal/models"
	"github.com/rs/zerolog/log"
)

const maxLookupResponseBytes = 1 << 20

// RemoteLookup resolves tokens by calling the user endpoint of an auth service.
// The token is forwarded as a bearer token and the response body is the user.
type RemoteLookup struct {
	url        string
	httpClient *http.Client
}

// NewRemoteLookup creates a lookup against userURL. A nil httpClient uses an
// uncached client since responses are specific to each token.
func NewRemoteLookup(userURL string, httpClient *http.Client) *RemoteLookup {
	if httpClient == nil {
		httpClient = client.NewHTTPClient(client.DefaultTimeout)
	}

	return &RemoteLookup{
		url:        userURL,
		httpClient: httpClient,
	}
}

// AuthenticateUser implements Lookup.
//
// Transport failures and 5xx responses are LOOKUP_FAILED. Any other non-2xx
// response, or a body that is not a user, is INVALID_RESPONSE carrying the
// service's error message.
func (l *RemoteLookup) AuthenticateUser(ctx context.Context, token string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, LookupFailed("failed to create user request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, LookupFailed("failed to fetch user", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupResponseBytes))
	if err != nil {
		return nil, LookupFailed("failed to read user response", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, LookupFailed(fmt.Sprintf("auth service error: %s", resp.Status), nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := serviceMessage(body)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		log.Debug().Int("status", resp.StatusCode).Str("message", message).Msg("Auth service rejected token")
		return nil, InvalidResponse(message, nil)
	}

	var user models.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, InvalidResponse("invalid user response", err)
	}
	if user.ID == "" {
		return nil, InvalidResponse("user response missing id", nil)
	}

	return &user, nil
}

// serviceMessage extracts the error or message field of a JSON error body,
// falling back to a short plain text body.
func serviceMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		return payload.Message
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.ContainsAny(text, "<{") {
		return ""
	}
	return text
}
