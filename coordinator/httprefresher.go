package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRefreshRejected is returned when the Token Authority answers anything
// other than success. The coordinator treats it as terminal.
var ErrRefreshRejected = errors.New("refresh rejected")

// HTTPRefresher calls the Token Authority's refresh endpoint. The refresh
// credential travels in the client's cookie jar; this type never sees it.
type HTTPRefresher struct {
	client   *http.Client
	endpoint string
}

// NewHTTPRefresher targets endpoint (e.g. "https://api.example.com/auth/refresh")
// with the given client, whose jar must carry the refresh cookie. A nil
// client falls back to http.DefaultClient.
func NewHTTPRefresher(client *http.Client, endpoint string) *HTTPRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRefresher{
		client:   client,
		endpoint: endpoint,
	}
}

func (r *HTTPRefresher) Refresh(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}

	var body struct {
		ExpiresIn int64 `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	if body.ExpiresIn <= 0 {
		return 0, fmt.Errorf("%w: non-positive expiresIn", ErrRefreshRejected)
	}

	return time.Duration(body.ExpiresIn) * time.Second, nil
}
