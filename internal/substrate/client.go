// Package substrate is a thin client for the external hierarchical
// key/value store ("the substrate") that backs the whole fabric: an
// etcd v2-style HTTP API offering atomic PUT, compare-and-swap create,
// TTL keys, recursive read/delete, and a resumable long-poll watch
// keyed by a monotonic modification index.
//
// All key composition is isolated in keys.go; callers elsewhere in the
// module work with typed records, never raw key strings.
package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Node mirrors one etcd v2 "node" in a response body.
type Node struct {
	Key           string  `json:"key"`
	Value         string  `json:"value,omitempty"`
	Dir           bool    `json:"dir,omitempty"`
	Nodes         []*Node `json:"nodes,omitempty"`
	CreatedIndex  int64   `json:"createdIndex,omitempty"`
	ModifiedIndex int64   `json:"modifiedIndex,omitempty"`
	TTL           int64   `json:"ttl,omitempty"`
	Expiration    string  `json:"expiration,omitempty"`
}

// Response mirrors an etcd v2 response envelope, including the error
// variant (which carries ErrorCode/Cause/Index instead of Node).
type Response struct {
	Action    string `json:"action,omitempty"`
	Node      *Node  `json:"node,omitempty"`
	PrevNode  *Node  `json:"prevNode,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
	Cause     string `json:"cause,omitempty"`
	Index     int64  `json:"index,omitempty"`

	// HeaderIndex is the X-Etcd-Index response header, which can include
	// modifications to unrelated keys and must never be used to resume
	// a per-key watch.
	HeaderIndex int64 `json:"-"`
	StatusCode  int   `json:"-"`
}

// Error codes documented by etcd v2; only the ones the fabric reacts to
// are named.
const (
	ErrorCodeKeyNotFound    = 100
	ErrorCodeEventIndexGone = 401 // "the event in requested index is outdated and cleared"
)

// ErrNotFound is returned by Get/GetRecursive when the key is absent.
var ErrNotFound = fmt.Errorf("substrate: key not found")

// ErrCASFailed is returned by CreateCAS when prevExist=false lost the race.
var ErrCASFailed = fmt.Errorf("substrate: compare-and-swap failed")

// Client talks to one substrate endpoint over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client pointed at baseURL (e.g. "http://127.0.0.1:2379/v2/keys/").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) keyURL(key string) string {
	return c.BaseURL + strings.TrimPrefix(key, "/")
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out Response
	if len(body) > 0 {
		if jerr := json.Unmarshal(body, &out); jerr != nil {
			return nil, fmt.Errorf("decoding substrate response: %w", jerr)
		}
	}
	out.StatusCode = resp.StatusCode
	if idx := resp.Header.Get("X-Etcd-Index"); idx != "" {
		if n, perr := strconv.ParseInt(idx, 10, 64); perr == nil {
			out.HeaderIndex = n
		}
	}
	return &out, nil
}

// Put writes value at key unconditionally. If ttlSeconds > 0, the key
// expires after that many seconds unless refreshed by another Put.
func (c *Client) Put(key, value string, ttlSeconds int) (*Response, error) {
	form := url.Values{"value": {value}}
	if ttlSeconds > 0 {
		form.Set("ttl", strconv.Itoa(ttlSeconds))
	}
	req, err := http.NewRequest(http.MethodPut, c.keyURL(key), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("substrate put %s: %s", key, resp.Message)
	}
	return resp, nil
}

// CreateCAS writes value at key only if the key does not currently
// exist (prevExist=false). Used for the collector lock; node liveness
// keys are written with Put. Returns ErrCASFailed if another writer
// holds the key.
func (c *Client) CreateCAS(key, value string, ttlSeconds int) (*Response, error) {
	form := url.Values{"value": {value}, "prevExist": {"false"}}
	if ttlSeconds > 0 {
		form.Set("ttl", strconv.Itoa(ttlSeconds))
	}
	req, err := http.NewRequest(http.MethodPut, c.keyURL(key), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return resp, ErrCASFailed
	}
	return resp, nil
}

// Get reads a single (non-recursive) key.
func (c *Client) Get(key string) (*Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("substrate get %s: %s", key, resp.Message)
	}
	return resp, nil
}

// GetRecursive reads key and every descendant beneath it.
func (c *Client) GetRecursive(key string) (*Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.keyURL(key)+"?recursive=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("substrate get %s: %s", key, resp.Message)
	}
	return resp, nil
}

// Delete removes a single key.
func (c *Client) Delete(key string) (*Response, error) {
	req, err := http.NewRequest(http.MethodDelete, c.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return resp, fmt.Errorf("substrate delete %s: %s", key, resp.Message)
	}
	return resp, nil
}

// DeleteRecursive removes key and every descendant beneath it.
func (c *Client) DeleteRecursive(key string) (*Response, error) {
	req, err := http.NewRequest(http.MethodDelete, c.keyURL(key)+"?recursive=true&dir=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return resp, fmt.Errorf("substrate delete %s: %s", key, resp.Message)
	}
	return resp, nil
}

// Index returns the substrate's current header index for root, used to
// refresh a change-feed consumer's wait index after a timeout or
// history gap.
func (c *Client) Index(root string) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, c.keyURL(root), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusNotFound {
		// Absent namespace: the header index is still meaningful.
		return resp.HeaderIndex, nil
	}
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("substrate index %s: %s", root, resp.Message)
	}
	return resp.HeaderIndex, nil
}

// WatchOnce performs a single long-poll GET against root, waiting for
// the first modification at or after waitIndex. It is the building
// block the change-feed consumer in internal/changefeed loops over.
//
// The poll's own deadline is derived from ctx via timeout: a bare
// timeout surfaces as an error wrapping context.DeadlineExceeded, while
// ctx's own cancellation surfaces as context.Canceled, so callers can
// tell the two apart.
func (c *Client) WatchOnce(ctx context.Context, root string, waitIndex int64, timeout time.Duration) (*Response, error) {
	watchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.keyURL(root) + fmt.Sprintf("?recursive=true&wait=true&waitIndex=%d", waitIndex)
	req, err := http.NewRequestWithContext(watchCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out Response
	if len(body) > 0 {
		if jerr := json.Unmarshal(body, &out); jerr != nil {
			return nil, fmt.Errorf("decoding watch response: %w", jerr)
		}
	}
	out.StatusCode = resp.StatusCode
	if idx := resp.Header.Get("X-Etcd-Index"); idx != "" {
		if n, perr := strconv.ParseInt(idx, 10, 64); perr == nil {
			out.HeaderIndex = n
		}
	}
	return &out, nil
}
