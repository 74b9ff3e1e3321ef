package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/vecdex/internal/models"
)

// HTTPSource lists documents from a JSON listing endpoint and downloads them
// over HTTP. The listing URL receives the client id as a query parameter.
type HTTPSource struct {
	listURL  string
	client   *http.Client
	maxBytes int64 // fetch size cap; 0 = unlimited
}

// NewHTTPSource creates a source for the given listing endpoint.
func NewHTTPSource(listURL string, timeout time.Duration, maxBytes int64) *HTTPSource {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		listURL:  listURL,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// listingPayload accepts the listing formats the upstream produces: a bare
// array, or an object wrapping the array under "result" or "documents".
type listingPayload struct {
	Result    []models.DocumentRef `json:"result"`
	Documents []models.DocumentRef `json:"documents"`
}

// ListDocuments fetches and decodes the document listing for clientID.
func (s *HTTPSource) ListDocuments(ctx context.Context, clientID string) ([]models.DocumentRef, error) {
	u, err := url.Parse(s.listURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing URL: %w", err)
	}
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch listing: %s", resp.Status)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}

	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var refs []models.DocumentRef
		if err := json.Unmarshal(payload, &refs); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		return refs, nil
	}
	var wrapped listingPayload
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if wrapped.Result != nil {
		return wrapped.Result, nil
	}
	if wrapped.Documents != nil {
		return wrapped.Documents, nil
	}
	return nil, fmt.Errorf("listing has neither %q nor %q", "result", "documents")
}

// Fetch downloads the ref's raw bytes.
func (s *HTTPSource) Fetch(ctx context.Context, ref models.DocumentRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", ref.URL, resp.Status)
	}
	var r io.Reader = resp.Body
	if s.maxBytes > 0 {
		r = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.URL, err)
	}
	if s.maxBytes > 0 && int64(len(raw)) > s.maxBytes {
		return nil, fmt.Errorf("fetch %s: exceeds %d bytes", ref.URL, s.maxBytes)
	}
	return raw, nil
}
