package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	iamURL = "https://iam.api.cloud.yandex.net/iam/v1/tokens"

	// Used when the reply carries no usable expiresAt. IAM tokens live 12h.
	fallbackTTL = 11 * time.Hour
	// refreshSkew renews a token this long before it expires.
	refreshSkew = time.Minute
)

// IAMError is a non-200 reply from the IAM token endpoint.
type IAMError struct {
	Status int
	Body   string
}

func (e *IAMError) Error() string {
	return fmt.Sprintf("yandex iam %d: %s", e.Status, e.Body)
}

// tokenSource exchanges the OAuth token for IAM tokens and caches one until
// shortly before it expires.
type tokenSource struct {
	httpc *http.Client
	url   string
	oauth string
	now   func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(httpc *http.Client, oauth string) *tokenSource {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &tokenSource{httpc: httpc, url: iamURL, oauth: oauth, now: time.Now}
}

type iamRequest struct {
	OAuthToken string `json:"yandexPassportOauthToken"`
}

type iamResponse struct {
	IAMToken  string `json:"iamToken"`
	ExpiresAt string `json:"expiresAt"`
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expires.Add(-refreshSkew)) {
		return s.token, nil
	}

	body, err := json.Marshal(iamRequest{OAuthToken: s.oauth})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("yandex iam: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &IAMError{Status: resp.StatusCode, Body: strings.TrimSpace(string(x))}
	}

	var out iamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("yandex iam: decode: %w", err)
	}
	if out.IAMToken == "" {
		return "", &IAMError{Status: resp.StatusCode, Body: "empty iamToken"}
	}

	now := s.now()
	expires, err := time.Parse(time.RFC3339Nano, out.ExpiresAt)
	if err != nil || !expires.After(now) {
		expires = now.Add(fallbackTTL)
	}
	s.token, s.expires = out.IAMToken, expires
	return s.token, nil
}

// Invalidate drops the cached token after the OCR API rejected it.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
