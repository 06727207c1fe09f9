// Package client talks to the chapterhub HTTP API. It satisfies
// manager.Backend so a Record Manager can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/manager"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
)

const defaultTimeout = 15 * time.Second

var errMissingBaseURL = errors.New("client: base url is required")

// APIError is a non-success envelope returned by the server.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Fields     []validation.FieldError
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes field failures as a *validation.Error.
func (e *APIError) Unwrap() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return &validation.Error{Fields: e.Fields}
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// UserView is the public projection of an account.
type UserView struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is the result of a login or signup.
type Session struct {
	User      UserView `json:"user"`
	Token     string   `json:"token"`
	ExpiresIn int64    `json:"expiresIn"`
}

type envelope struct {
	Success      bool                    `json:"success"`
	Message      string                  `json:"message"`
	Code         string                  `json:"code"`
	Data         json.RawMessage         `json:"data"`
	Errors       []validation.FieldError `json:"errors"`
	Pagination   *pagination             `json:"pagination"`
	DeletedCount int64                   `json:"deletedCount"`
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, token: cfg.Token}, nil
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the bearer token in use.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &session); err != nil {
		return Session{}, err
	}
	c.SetToken(session.Token)
	return session, nil
}

// List fetches one page of a collection through the admin API.
func (c *Client) List(ctx context.Context, collection string, page, limit int) (manager.Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	var records []manager.Record
	result, err := c.do(ctx, http.MethodGet, "/api/admin/list/"+url.PathEscape(collection), query, nil, &records)
	if err != nil {
		return manager.Page{}, err
	}
	pages := 1
	if result.Pagination != nil {
		pages = result.Pagination.Pages
	}
	return manager.Page{Records: records, Pages: pages}, nil
}

// Create adds a record to a collection.
func (c *Client) Create(ctx context.Context, collection string, values map[string]any) (manager.Record, error) {
	var record manager.Record
	if _, err := c.do(ctx, http.MethodPost, "/api/admin/add/"+url.PathEscape(collection), nil, values, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Update overlays values onto a stored record.
func (c *Client) Update(ctx context.Context, collection, id string, values map[string]any) (manager.Record, error) {
	var record manager.Record
	path := "/api/admin/update/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	if _, err := c.do(ctx, http.MethodPut, path, nil, values, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	path := "/api/admin/delete/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

// BulkDelete removes the listed records and returns the number removed.
func (c *Client) BulkDelete(ctx context.Context, collection string, ids []string) (int64, error) {
	body := map[string][]string{"ids": ids}
	result, err := c.do(ctx, http.MethodPost, "/api/admin/bulk-delete/"+url.PathEscape(collection), nil, body, nil)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, payload any) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, target any) (envelope, error) {
	request, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		return envelope{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return envelope{}, err
	}
	defer response.Body.Close()

	var result envelope
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return envelope{}, &APIError{StatusCode: response.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if response.StatusCode >= http.StatusBadRequest || !result.Success {
		return result, &APIError{
			StatusCode: response.StatusCode,
			Message:    result.Message,
			Code:       result.Code,
			Fields:     result.Errors,
		}
	}
	if target != nil && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, target); err != nil {
			return result, fmt.Errorf("client: decode data: %w", err)
		}
	}
	return result, nil
}
