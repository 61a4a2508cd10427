package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/normalize"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// HTTPClient talks to the account-book REST backend.
type HTTPClient struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// NewHTTPClient creates a client for baseURL. token is sent as a bearer token
// when non-empty.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// UserHeader carries the acting user on every request of a scoped client.
const UserHeader = "X-User-ID"

// ForUser returns a client that acts for userID. The underlying
// http.Client is shared.
func (c *HTTPClient) ForUser(userID string) *HTTPClient {
	scoped := *c
	scoped.userID = userID
	return &scoped
}

// CreateEntries posts the drafts without their notes.
func (c *HTTPClient) CreateEntries(ctx context.Context, drafts []domain.Draft) (any, error) {
	body := make([]domain.Draft, len(drafts))
	for i, d := range drafts {
		body[i] = d.WithoutNote()
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/expenses", nil, body)
	if err != nil {
		return nil, fmt.Errorf("CreateEntries: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) LoadEntries(ctx context.Context, start, end civil.Date, page Page) (any, error) {
	q := url.Values{}
	q.Set("startDate", start.String())
	q.Set("endDate", end.String())
	q.Set("page", strconv.Itoa(page.Number))
	q.Set("size", strconv.Itoa(page.Limit()))
	resp, err := c.do(ctx, http.MethodGet, "/api/expenses", q, nil)
	if err != nil {
		return nil, fmt.Errorf("LoadEntries: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) UpsertNote(ctx context.Context, id, text string) error {
	if _, err := c.do(ctx, http.MethodPut, "/api/expenses/"+url.PathEscape(id)+"/memo", nil, map[string]string{"memo": text}); err != nil {
		return fmt.Errorf("UpsertNote: %w", err)
	}
	return nil
}

func (c *HTTPClient) LoadNote(ctx context.Context, id string) (any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/expenses/"+url.PathEscape(id)+"/memo", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("LoadNote: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) UpsertBudget(ctx context.Context, budget domain.Budget) error {
	if _, err := c.do(ctx, http.MethodPut, "/api/budgets", nil, budget); err != nil {
		return fmt.Errorf("UpsertBudget: %w", err)
	}
	return nil
}

// UpdateEntry sends the fields as query parameters; the backend takes no body.
func (c *HTTPClient) UpdateEntry(ctx context.Context, entry domain.LedgerEntry) error {
	q := url.Values{}
	q.Set("category", entry.Category)
	q.Set("date", entry.Date)
	q.Set("amount", strconv.FormatInt(entry.Amount, 10))
	if _, err := c.do(ctx, http.MethodPut, "/api/expenses/"+url.PathEscape(entry.ID), q, nil); err != nil {
		return fmt.Errorf("UpdateEntry: %w", err)
	}
	return nil
}

func (c *HTTPClient) DeleteEntry(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/api/expenses/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("DeleteEntry: %w", err)
	}
	return nil
}

// Award credits points to a user.
func (c *HTTPClient) Award(ctx context.Context, userID string, points int, reason string) error {
	return c.points(ctx, "/api/points/award", userID, points, reason)
}

// Redeem debits points from a user.
func (c *HTTPClient) Redeem(ctx context.Context, userID string, points int, reason string) error {
	return c.points(ctx, "/api/points/redeem", userID, points, reason)
}

func (c *HTTPClient) points(ctx context.Context, path, userID string, points int, reason string) error {
	body := map[string]any{"userId": userID, "points": points, "reason": reason}
	if _, err := c.do(ctx, http.MethodPost, path, nil, body); err != nil {
		return fmt.Errorf("points %s: %w", path, err)
	}
	return nil
}

// do sends one request and decodes a JSON response body. An empty body
// decodes to nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	decoded, err := normalize.DecodeJSON(data)
	if err != nil {
		// Plain-text bodies (e.g. a bare note) are passed through as strings.
		return string(data), nil
	}
	return decoded, nil
}
