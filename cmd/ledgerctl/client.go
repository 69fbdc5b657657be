package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type ledgerClient struct {
	baseURL  string
	http     *http.Client
	user     string
	roles    string
	exercice int
}

func newClient() *ledgerClient {
	return &ledgerClient{
		baseURL:  serverURL,
		user:     user,
		roles:    roles,
		exercice: exercice,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is an error body returned by the server.
type apiError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// do sends a request with the identity headers and decodes a 2xx response
// into v when v is non-nil.
func (c *ledgerClient) do(method, path string, query url.Values, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("X-User-Principal", c.user)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}
	if c.exercice != 0 {
		req.Header.Set("X-Exercice", strconv.Itoa(c.exercice))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}

// getJSON performs a GET request and decodes the response.
func (c *ledgerClient) getJSON(path string, query url.Values, v any) error {
	return c.do(http.MethodGet, path, query, nil, v)
}

// postJSON performs a POST request with a JSON body and decodes the response.
func (c *ledgerClient) postJSON(path string, body, v any) error {
	return c.do(http.MethodPost, path, nil, body, v)
}

// patchJSON performs a PATCH request with a JSON body and decodes the response.
func (c *ledgerClient) patchJSON(path string, body, v any) error {
	return c.do(http.MethodPatch, path, nil, body, v)
}
