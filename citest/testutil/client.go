package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	fullURL := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Permission API Helpers ----

// CheckRequest is a tool invocation to decide
type CheckRequest struct {
	ToolName  string         `json:"toolName"`
	Content   string         `json:"content,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	SessionID string         `json:"sessionID,omitempty"`
}

// Rule is a rule as returned by the API
type Rule struct {
	Source       string `json:"source"`
	RuleBehavior string `json:"ruleBehavior"`
	RuleValue    struct {
		ToolName    string `json:"toolName"`
		RuleContent string `json:"ruleContent,omitempty"`
	} `json:"ruleValue"`
}

// String formats the rule value as Tool or Tool(content)
func (r Rule) String() string {
	if r.RuleValue.RuleContent == "" {
		return r.RuleValue.ToolName
	}
	return r.RuleValue.ToolName + "(" + r.RuleValue.RuleContent + ")"
}

// Decision is a permission decision as returned by the API
type Decision struct {
	ID             string `json:"id"`
	Behavior       string `json:"behavior"`
	Rule           *Rule  `json:"rule,omitempty"`
	DecisionReason *struct {
		Type     string `json:"type"`
		ToolName string `json:"toolName,omitempty"`
		Scope    string `json:"scope,omitempty"`
		Path     string `json:"path,omitempty"`
	} `json:"decisionReason,omitempty"`
	RuleSuggestions []struct {
		ToolName    string `json:"toolName"`
		RuleContent string `json:"ruleContent,omitempty"`
	} `json:"ruleSuggestions"`
	RuleSetVersion uint64 `json:"ruleSetVersion"`
}

// ReasonType returns the decision reason type, or "" without a reason
func (d *Decision) ReasonType() string {
	if d.DecisionReason == nil {
		return ""
	}
	return d.DecisionReason.Type
}

// RuleSet is the rule set as returned by GET /permission/rules
type RuleSet struct {
	Version  uint64 `json:"version"`
	RootDir  string `json:"rootDir"`
	Rules    []Rule `json:"rules"`
	Findings []struct {
		Rule    Rule   `json:"rule"`
		Message string `json:"message"`
	} `json:"findings,omitempty"`
}

// RuleStrings returns every rule formatted with its behavior, e.g.
// "deny Bash(rm:*)"
func (rs *RuleSet) RuleStrings() []string {
	out := make([]string, len(rs.Rules))
	for i, r := range rs.Rules {
		out[i] = r.RuleBehavior + " " + r.String()
	}
	return out
}

// RequestResult is the outcome of POST /permission/request
type RequestResult struct {
	Decision *Decision `json:"decision"`
	Granted  bool      `json:"granted"`
	Message  string    `json:"message,omitempty"`
}

// PendingRequest is a request waiting for a reply
type PendingRequest struct {
	ID         string    `json:"id"`
	Invocation struct {
		ToolName  string `json:"toolName"`
		Content   string `json:"content"`
		SessionID string `json:"sessionID,omitempty"`
	} `json:"invocation"`
	Decision *Decision `json:"decision"`
}

// AuditRecord is one audited decision
type AuditRecord struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	DecisionID string    `json:"decisionID"`
	SessionID  string    `json:"sessionID,omitempty"`
	ToolName   string    `json:"toolName"`
	Content    string    `json:"content,omitempty"`
	Behavior   string    `json:"behavior"`
	ReasonType string    `json:"reasonType,omitempty"`
	Rule       string    `json:"rule,omitempty"`
}

// ErrorResponse is the API error body
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Check decides one invocation
func (c *TestClient) Check(ctx context.Context, req CheckRequest) (*Decision, error) {
	var d Decision
	if err := c.postJSON(ctx, "/permission/check", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CheckBatch decides several invocations against one rule set
func (c *TestClient) CheckBatch(ctx context.Context, reqs ...CheckRequest) ([]Decision, error) {
	var results []struct {
		Decision *Decision `json:"decision"`
		Error    string    `json:"error"`
	}
	body := map[string]any{"invocations": reqs}
	if err := c.postJSON(ctx, "/permission/check/batch", body, &results); err != nil {
		return nil, err
	}
	out := make([]Decision, len(results))
	for i, r := range results {
		if r.Error != "" {
			return nil, fmt.Errorf("invocation %d: %s", i, r.Error)
		}
		out[i] = *r.Decision
	}
	return out, nil
}

// Request decides an invocation and waits for a reply on ask
func (c *TestClient) Request(ctx context.Context, req CheckRequest) (*RequestResult, error) {
	var res RequestResult
	if err := c.postJSON(ctx, "/permission/request", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Respond replies to a pending request
func (c *TestClient) Respond(ctx context.Context, requestID, response string) error {
	return c.postJSON(ctx, "/permission/"+requestID, map[string]string{"response": response}, nil)
}

// Pending lists requests waiting for a reply
func (c *TestClient) Pending(ctx context.Context) ([]PendingRequest, error) {
	var out []PendingRequest
	if err := c.getJSON(ctx, "/permission/pending", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Rules returns the current rule set
func (c *TestClient) Rules(ctx context.Context, opts ...RequestOption) (*RuleSet, error) {
	var rs RuleSet
	if err := c.getJSON(ctx, "/permission/rules", &rs, opts...); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Reload re-reads every settings scope
func (c *TestClient) Reload(ctx context.Context) (*RuleSet, error) {
	var rs RuleSet
	if err := c.postJSON(ctx, "/permission/reload", nil, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// AddSessionRules adds rules to the session scope
func (c *TestClient) AddSessionRules(ctx context.Context, behavior string, rules ...string) (*RuleSet, error) {
	var rs RuleSet
	body := map[string]any{"behavior": behavior, "rules": rules}
	if err := c.postJSON(ctx, "/permission/session", body, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// SessionRules lists the session scope
func (c *TestClient) SessionRules(ctx context.Context) ([]Rule, error) {
	var out []Rule
	if err := c.getJSON(ctx, "/permission/session", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearSessionRules drops the session scope
func (c *TestClient) ClearSessionRules(ctx context.Context) error {
	resp, err := c.Delete(ctx, "/permission/session")
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// Audit lists audited decisions
func (c *TestClient) Audit(ctx context.Context, query map[string]string) ([]AuditRecord, error) {
	var out []AuditRecord
	if err := c.getJSON(ctx, "/permission/audit", &out, WithQuery(query)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TestClient) getJSON(ctx context.Context, path string, v any, opts ...RequestOption) error {
	resp, err := c.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	return resp.JSON(v)
}

func (c *TestClient) postJSON(ctx context.Context, path string, body, v any) error {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}

// checkStatus turns a non-2xx response into an error carrying the API
// error message.
func checkStatus(resp *Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var e ErrorResponse
	if err := resp.JSON(&e); err == nil && e.Error.Code != "" {
		return fmt.Errorf("status %d: %s: %s", resp.StatusCode, e.Error.Code, e.Error.Message)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, resp.String())
}

// ---- Assertion Helpers ----

// ContainsString checks if a string slice contains a value
func ContainsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

// ContainsSubstring checks if any string in slice contains substring
func ContainsSubstring(slice []string, substr string) bool {
	for _, s := range slice {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
