package ticket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(StaticSettings(Settings{
		BaseURL:    srv.URL + "/",
		Email:      "ops@example.com",
		ProjectKey: "IT",
		IssueType:  "Task",
	}), "secret-token", 5*time.Second)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestCreateTicketSuccess(t *testing.T) {
	var got createIssueRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, createIssuePath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops@example.com:secret-token"))
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10042","key":"IT-42","self":"https://jira/rest/api/3/issue/10042"}`))
	})

	tk, err := c.CreateTicket(context.Background(), "Printer broken", "It jams.", "Alice <alice@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "IT-42", tk.Key)
	assert.Equal(t, "10042", tk.ID)
	assert.True(t, strings.HasSuffix(tk.URL, "/browse/IT-42"))
	assert.NotContains(t, tk.URL, "//browse")

	assert.Equal(t, "IT", got.Fields.Project.Key)
	assert.Equal(t, "Task", got.Fields.IssueType.Name)
	assert.Equal(t, "Printer broken", got.Fields.Summary)

	doc := got.Fields.Description
	assert.Equal(t, "doc", doc.Type)
	require.Len(t, doc.Content, 5)
	assert.Equal(t, "From: Alice <alice@example.com>", doc.Content[0].Content[0].Text)
	assert.Equal(t, "strong", doc.Content[0].Content[0].Marks[0].Type)
	assert.Equal(t, "Date: 2024-03-01T09:30:00Z", doc.Content[1].Content[0].Text)
	assert.Equal(t, "rule", doc.Content[2].Type)
	assert.Equal(t, "Email Content:", doc.Content[3].Content[0].Text)
	assert.Equal(t, "It jams.", doc.Content[4].Content[0].Text)
}

func TestCreateTicketTruncatesSummary(t *testing.T) {
	var got createIssueRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1","key":"IT-1"}`))
	})

	_, err := c.CreateTicket(context.Background(), strings.Repeat("é", 300), "body", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, maxSummaryLength, len([]rune(got.Fields.Summary)))
}

func TestCreateTicketAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":{"project":"project is required"}}`))
	})

	tk, err := c.CreateTicket(context.Background(), "subject", "body", "a@example.com")
	assert.Nil(t, tk)
	require.Error(t, err)
	assert.True(t, IsAPIError(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "project is required")
	assert.Contains(t, err.Error(), "400")
}

func TestCreateTicketTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(StaticSettings(Settings{BaseURL: url, ProjectKey: "IT", IssueType: "Task"}), "t", time.Second)
	_, err := c.CreateTicket(context.Background(), "s", "b", "a@example.com")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.StatusCode)
}

func TestCreateTicketSettingsError(t *testing.T) {
	c := NewClient(func(context.Context) (Settings, error) {
		return Settings{}, errors.New("store down")
	}, "t", time.Second)

	_, err := c.CreateTicket(context.Background(), "s", "b", "a@example.com")
	assert.True(t, IsAPIError(err))
	assert.Contains(t, err.Error(), "store down")
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, myselfPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"accountId":"abc","displayName":"Ops Bot"}`))
	})

	res := c.TestConnection(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, "Ops Bot", res.User["displayName"])
	assert.Empty(t, res.Error)
}

func TestTestConnectionFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Unauthorized"))
	})

	res := c.TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "401")
}

func TestTestConnectionUnconfigured(t *testing.T) {
	c := NewClient(StaticSettings(Settings{}), "", time.Second)
	res := c.TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestBuildDescriptionEmptyBody(t *testing.T) {
	doc := buildDescription("a@example.com", time.Now(), "  ")
	assert.Equal(t, "No content", doc.Content[4].Content[0].Text)
}
