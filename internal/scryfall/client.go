package scryfall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited = errors.New("API rate limit exceeded")
	ErrNotFound    = errors.New("API resource not found")
	ErrServerError = errors.New("API server error")
	ErrBadPayload  = errors.New("API payload malformed")
)

const userAgent = "ttsdeck/1.0"

// Transient reports whether an upstream error is worth retrying. Rate
// limits, 5xx responses and transport-level failures are transient;
// missing resources and malformed payloads are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError) {
		return true
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadPayload) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified transport errors (connection reset, EOF) get retried.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Client is a Scryfall API client with a polite inter-request delay.
type Client struct {
	BaseURL    string
	HttpClient *http.Client

	mu        sync.Mutex
	lastQuery time.Time
	delay     time.Duration
}

// NewClient creates a new API client. A nil httpClient gets a default with
// a generous timeout, since bulk data downloads can run long.
func NewClient(baseURL string, httpClient *http.Client, delayMs int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		BaseURL:    baseURL,
		HttpClient: httpClient,
		delay:      time.Duration(delayMs) * time.Millisecond,
	}
}

// throttle sleeps long enough to keep at least one delay interval between
// consecutive upstream requests.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	threshold := c.lastQuery.Add(c.delay)
	c.lastQuery = time.Now()
	c.mu.Unlock()

	wait := time.Until(threshold)
	if wait <= 0 {
		return nil
	}
	log.Debugf("Delaying next upstream request by %s", wait)
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) get(ctx context.Context, reqURL string) (*http.Response, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request for %s: %w", reqURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		drainAndClose(resp)
		return nil, fmt.Errorf("%w (from %s)", ErrRateLimited, reqURL)
	case resp.StatusCode == http.StatusNotFound:
		drainAndClose(resp)
		return nil, fmt.Errorf("%w (from %s)", ErrNotFound, reqURL)
	case resp.StatusCode >= 500:
		drainAndClose(resp)
		return nil, fmt.Errorf("%w (status %d from %s)", ErrServerError, resp.StatusCode, reqURL)
	default:
		drainAndClose(resp)
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, reqURL)
	}
}

// drainAndClose empties the body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

type bulkDataList struct {
	Data []bulkDataItem `json:"data"`
}

type bulkDataItem struct {
	Type        string `json:"type"`
	DownloadURI string `json:"download_uri"`
}

// BulkData locates the bulk dataset of the given type (e.g. "default_cards")
// in the upstream listing and returns a stream of its contents. The caller
// must close the returned reader.
func (c *Client) BulkData(ctx context.Context, bulkType string) (io.ReadCloser, error) {
	listURL := c.BaseURL + "/bulk-data"
	resp, err := c.get(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("fetching bulk data listing: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading bulk data listing: %w", err)
	}

	var listing bulkDataList
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("%w: parsing bulk data listing: %v", ErrBadPayload, err)
	}
	log.Debugf("Got bulk data listing with %d items", len(listing.Data))

	for _, item := range listing.Data {
		if item.Type != bulkType {
			continue
		}
		log.Infof("Downloading bulk file %s", item.DownloadURI)
		fileResp, err := c.get(ctx, item.DownloadURI)
		if err != nil {
			return nil, fmt.Errorf("fetching bulk file %s: %w", item.DownloadURI, err)
		}
		return fileResp.Body, nil
	}
	return nil, fmt.Errorf("%w: no %q entry among bulk downloads", ErrNotFound, bulkType)
}

// CardImage fetches the raw image bytes for one face of a card. Face 0 is
// the front; face 1 addresses the back of a double-faced card.
func (c *Client) CardImage(ctx context.Context, cardID uuid.UUID, face int) ([]byte, error) {
	faceParam := ""
	if face > 0 {
		faceParam = "back"
	}
	imgURL := fmt.Sprintf("%s/cards/%s?format=image&version=large&face=%s", c.BaseURL, cardID, faceParam)

	resp, err := c.get(ctx, imgURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading image body for card %s face %d: %w", cardID, face, err)
	}
	if len(bytes) == 0 {
		return nil, fmt.Errorf("%w: empty image body for card %s face %d", ErrBadPayload, cardID, face)
	}
	return bytes, nil
}
