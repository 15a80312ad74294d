// Package ticket talks to the Jira Cloud REST API v3.
package ticket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	createIssuePath = "/rest/api/3/issue"
	myselfPath      = "/rest/api/3/myself"

	// Jira rejects summaries longer than this
	maxSummaryLength = 255
)

// SettingsProvider returns the current Jira settings. It is consulted on
// every call so runtime configuration edits apply immediately.
type SettingsProvider func(ctx context.Context) (Settings, error)

// StaticSettings returns a provider that always yields s
func StaticSettings(s Settings) SettingsProvider {
	return func(context.Context) (Settings, error) { return s, nil }
}

// Client creates issues and checks credentials against Jira
type Client struct {
	settings   SettingsProvider
	apiToken   string
	httpClient *http.Client
	now        func() time.Time
	log        *logrus.Entry
}

// NewClient creates a Jira client. timeout bounds every request.
func NewClient(settings SettingsProvider, apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		settings:   settings,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		log:        logrus.WithField("component", "ticket"),
	}
}

// CreateTicket creates an issue from an email's subject, body and sender
func (c *Client) CreateTicket(ctx context.Context, subject, body, sender string) (*Ticket, error) {
	s, err := c.settings(ctx)
	if err != nil {
		return nil, &APIError{Err: fmt.Errorf("failed to load jira settings: %w", err)}
	}

	payload := createIssueRequest{
		Fields: issueFields{
			Project:     projectRef{Key: s.ProjectKey},
			Summary:     truncate(subject, maxSummaryLength),
			Description: buildDescription(sender, c.now(), body),
			IssueType:   issueType{Name: s.IssueType},
		},
	}

	status, respBody, err := c.do(ctx, s, http.MethodPost, createIssuePath, payload)
	if err != nil {
		return nil, &APIError{Err: err}
	}
	if status != http.StatusCreated {
		return nil, &APIError{StatusCode: status, Body: string(respBody)}
	}

	var created createIssueResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, &APIError{StatusCode: status, Body: string(respBody), Err: fmt.Errorf("decoding create issue response: %w", err)}
	}
	if created.Key == "" {
		return nil, &APIError{StatusCode: status, Body: string(respBody), Err: errors.New("response did not include an issue key")}
	}

	t := &Ticket{
		ID:  created.ID,
		Key: created.Key,
		URL: baseURL(s) + "/browse/" + created.Key,
	}
	c.log.WithFields(logrus.Fields{"ticket_key": t.Key, "project": s.ProjectKey}).Info("Created Jira issue")
	return t, nil
}

// TestConnection checks the configured credentials. It never returns an
// error; failures are reported in the result.
func (c *Client) TestConnection(ctx context.Context) ConnectionResult {
	s, err := c.settings(ctx)
	if err != nil {
		return ConnectionResult{Error: fmt.Sprintf("failed to load jira settings: %v", err)}
	}

	status, body, err := c.do(ctx, s, http.MethodGet, myselfPath, nil)
	if err != nil {
		c.log.WithError(err).Warn("Jira connection test failed")
		return ConnectionResult{Error: err.Error()}
	}
	if status != http.StatusOK {
		return ConnectionResult{Error: fmt.Sprintf("Connection failed: %d %s", status, strings.TrimSpace(string(body)))}
	}

	var user map[string]interface{}
	if err := json.Unmarshal(body, &user); err != nil {
		return ConnectionResult{Error: fmt.Sprintf("decoding identity response: %v", err)}
	}
	return ConnectionResult{Success: true, User: user}
}

// do performs an authenticated JSON request and returns the status and body
func (c *Client) do(ctx context.Context, s Settings, method, path string, body interface{}) (int, []byte, error) {
	if s.BaseURL == "" {
		return 0, nil, errors.New("jira base URL is not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL(s)+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", basicAuth(s.Email, c.apiToken))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func baseURL(s Settings) string {
	return strings.TrimRight(s.BaseURL, "/")
}

func basicAuth(email, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+token))
}

// buildDescription renders the issue body: sender, timestamp, then the email content
func buildDescription(sender string, at time.Time, body string) adfDocument {
	if strings.TrimSpace(body) == "" {
		body = "No content"
	}
	return adfDocument{
		Type:    "doc",
		Version: 1,
		Content: []adfNode{
			paragraph(adfNode{Type: "text", Text: "From: " + sender, Marks: []adfMark{{Type: "strong"}}}),
			paragraph(adfNode{Type: "text", Text: "Date: " + at.UTC().Format(time.RFC3339), Marks: []adfMark{{Type: "strong"}}}),
			{Type: "rule"},
			paragraph(adfNode{Type: "text", Text: "Email Content:"}),
			paragraph(adfNode{Type: "text", Text: body}),
		},
	}
}

func paragraph(children ...adfNode) adfNode {
	return adfNode{Type: "paragraph", Content: children}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
