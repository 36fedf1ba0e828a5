package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/parnexcodes/droppush/internal/logging"
)

// TokenHeader carries the client token on every call after claim
const TokenHeader = "X-Client-Token"

var portalPathPattern = regexp.MustCompile(`^/p/([^/]+)`)

// PortalIDFromPath returns the portal ID addressed by a /p/{portalId} path,
// or "" when the path does not address a portal.
func PortalIDFromPath(path string) string {
	match := portalPathPattern.FindStringSubmatch(path)
	if match == nil {
		return ""
	}
	return match[1]
}

// ParsePortalURL splits a portal link into the server base URL and portal ID
func ParsePortalURL(raw string) (*url.URL, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", fmt.Errorf("invalid portal URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("invalid portal URL %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return nil, "", fmt.Errorf("invalid portal URL %q: missing host", raw)
	}
	portalID := PortalIDFromPath(parsed.EscapedPath())
	if portalID == "" {
		return nil, "", fmt.Errorf("invalid portal URL %q: path must look like /p/{portal_id}", raw)
	}
	if unescaped, err := url.PathUnescape(portalID); err == nil {
		portalID = unescaped
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, User: parsed.User}
	return base, portalID, nil
}

// sizedReader is a body that knows its exact length up front
type sizedReader interface {
	io.Reader
	Size() int64
}

// Client speaks the portal HTTP contract against one server
type Client struct {
	baseURL   *url.URL
	client    *http.Client
	stream    *http.Client
	userAgent string
}

// NewClient creates a client. Timeout bounds every request except the
// byte transfer, which may legitimately run for a long time.
func NewClient(baseURL *url.URL, timeout time.Duration, userAgent string) *Client {
	if userAgent == "" {
		userAgent = "droppush/1.0"
	}
	return &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		stream:    &http.Client{},
		userAgent: userAgent,
	}
}

// BaseURL returns the server base URL
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// ResolveURL resolves a server-relative URL such as a put_url. Absolute
// URLs must point at the same server, since the client token is sent there.
func (c *Client) ResolveURL(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	resolved := c.baseURL.ResolveReference(parsed)
	if resolved.Scheme != c.baseURL.Scheme || resolved.Host != c.baseURL.Host {
		return "", fmt.Errorf("%s is not on %s://%s", ref, c.baseURL.Scheme, c.baseURL.Host)
	}
	return resolved.String(), nil
}

func (c *Client) portalURL(portalID, action string) string {
	return c.baseURL.ResolveReference(&url.URL{
		Path: "/api/portals/" + portalID + "/" + action,
	}).String()
}

// PostJSON sends payload as JSON and decodes a success body into target
func (c *Client) PostJSON(ctx context.Context, stage Stage, endpoint string, token string, payload interface{}, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewLocalError(stage, "failed to encode request", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if token != "" {
		headers[TokenHeader] = token
	}
	resp, start, err := c.MakeRequest(ctx, c.client, stage, http.MethodPost, endpoint, bytes.NewReader(body), headers)
	if err != nil {
		return err
	}
	_, err = c.ParseResponse(resp, stage, start, target)
	return err
}

// GetJSON fetches endpoint and decodes a success body into target
func (c *Client) GetJSON(ctx context.Context, stage Stage, endpoint string, target interface{}) error {
	resp, start, err := c.MakeRequest(ctx, c.client, stage, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	_, err = c.ParseResponse(resp, stage, start, target)
	return err
}

// MakeRequest creates and executes an HTTP request with common headers and logging
func (c *Client) MakeRequest(ctx context.Context, httpClient *http.Client, stage Stage, method, endpoint string, body io.Reader, headers map[string]string) (*http.Response, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		logging.ErrorContext("http_request_create", err, map[string]interface{}{
			"stage":  stage.String(),
			"method": method,
			"url":    endpoint,
		})
		return nil, time.Time{}, NewLocalError(stage, fmt.Sprintf("failed to create request: %s", method), err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if sized, ok := body.(sizedReader); ok && sized.Size() > 0 {
		req.ContentLength = sized.Size()
	}

	logging.HTTPRequest(method, endpoint, redactHeaders(headers))

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		logging.ErrorContext("http_request", err, map[string]interface{}{
			"stage": stage.String(),
			"url":   endpoint,
		})
		return nil, start, NewNetworkError(stage, err)
	}

	return resp, start, nil
}

// ParseResponse reads the body, maps non-success statuses to a PortalError
// and decodes the JSON body into target when one is given.
func (c *Client) ParseResponse(resp *http.Response, stage Stage, start time.Time, target interface{}) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.ErrorContext("http_response_read", err, map[string]interface{}{
			"stage":       stage.String(),
			"status_code": resp.StatusCode,
		})
		return nil, NewNetworkError(stage, err)
	}

	logging.HTTPResponse(resp.StatusCode, string(body), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := errorMessage(resp, body)
		logging.ErrorContext("api_error", fmt.Errorf("portal returned status %d", resp.StatusCode), map[string]interface{}{
			"stage":       stage.String(),
			"status_code": resp.StatusCode,
			"message":     message,
		})
		return body, NewPortalError(stage, errorTypeForStatus(resp.StatusCode), resp.StatusCode, message, nil)
	}

	if target != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, target); err != nil {
			logging.ErrorContext("json_parse", err, map[string]interface{}{
				"stage":    stage.String(),
				"response": string(body),
			})
			return body, NewPortalError(stage, ErrorTypeAPI, resp.StatusCode, "failed to parse portal response", err)
		}
	}

	return body, nil
}

// errorMessage prefers the {error} body field, then the status line text
func errorMessage(resp *http.Response, body []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return payload.Error
	}
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	if text == "" {
		return "request failed"
	}
	return text
}

func redactHeaders(headers map[string]string) map[string]string {
	if _, ok := headers[TokenHeader]; !ok {
		return headers
	}
	redacted := make(map[string]string, len(headers))
	for key, value := range headers {
		if key == TokenHeader {
			value = "[redacted]"
		}
		redacted[key] = value
	}
	return redacted
}
