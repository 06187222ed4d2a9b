// Package wavelet is the Go client for the Wavelet chat backend.
//
// It covers authentication, the room/message store, realtime message
// delivery, and avatar uploads, with sub-module access from one client:
//
//	client := wavelet.NewClient("https://acme.wavelet.dev", anonKey)
//
//	sess, _ := client.Auth().SignIn(ctx, "me@example.com", "secret")
//	rooms, _ := client.Store().ListRooms(ctx)
//
//	sync := wavelet.NewSynchronizer(client.Store(), wavelet.WithSelf(sess.User))
//	sync.ActivateRoom(ctx, "general")
package wavelet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client is the root handle for one Wavelet backend. The anon key
// authenticates the project; a user access token (set after sign-in)
// authenticates the person.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client

	tokenMu     sync.RWMutex
	accessToken string

	auth     *AuthClient
	store    *StoreClient
	blobs    *BlobClient
	realtime *RealtimeClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a client for the backend at baseURL. anonKey is the
// project API key; pass the user token via Auth().SignIn or SetToken.
func NewClient(baseURL, anonKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.auth = newAuthClient(c)
	c.realtime = newRealtimeClient(c)
	c.store = newStoreClient(c)
	c.blobs = newBlobClient(c)
	return c
}

// SetToken sets or updates the user access token. Auth().SignIn calls this
// automatically; it is exposed for restoring a persisted session.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.accessToken = token
	c.tokenMu.Unlock()
}

func (c *Client) token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	if c.accessToken != "" {
		return c.accessToken
	}
	return c.anonKey
}

// BaseURL returns the backend base URL the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// Auth returns the authentication sub-client.
func (c *Client) Auth() *AuthClient { return c.auth }

// Store returns the data-store gateway.
func (c *Client) Store() *StoreClient { return c.store }

// Blobs returns the blob-store sub-client.
func (c *Client) Blobs() *BlobClient { return c.blobs }

// Realtime returns the realtime sub-client.
func (c *Client) Realtime() *RealtimeClient { return c.realtime }

// ============================================================================
// Internal request helper
// ============================================================================

// apiResponse is a decoded HTTP exchange: body bytes plus status code, so
// callers can map backend statuses onto the error taxonomy.
type apiResponse struct {
	Status int
	Body   []byte
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values, headers map[string]string) (*apiResponse, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.token())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &apiResponse{Status: resp.StatusCode, Body: data}, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
