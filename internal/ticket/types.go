package ticket

// Ticket identifies an issue created in Jira
type Ticket struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	URL string `json:"url"`
}

// ConnectionResult is the outcome of an identity check against Jira
type ConnectionResult struct {
	Success bool                   `json:"success"`
	User    map[string]interface{} `json:"user,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Settings are the per-call parts of the Jira configuration that can be
// edited at runtime.
type Settings struct {
	BaseURL    string
	Email      string
	ProjectKey string
	IssueType  string
}

type createIssueRequest struct {
	Fields issueFields `json:"fields"`
}

type issueFields struct {
	Project     projectRef  `json:"project"`
	Summary     string      `json:"summary"`
	Description adfDocument `json:"description"`
	IssueType   issueType   `json:"issuetype"`
}

type projectRef struct {
	Key string `json:"key"`
}

type issueType struct {
	Name string `json:"name"`
}

type createIssueResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// adfDocument is an Atlassian Document Format body
type adfDocument struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []adfNode `json:"content"`
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Marks   []adfMark `json:"marks,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

type adfMark struct {
	Type string `json:"type"`
}
