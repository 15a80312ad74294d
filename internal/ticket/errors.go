package ticket

import (
	"errors"
	"fmt"
)

// APIError is returned when Jira rejects a request or cannot be reached.
// StatusCode is zero for transport failures.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("jira API error: %v", e.Err)
	}
	return fmt.Sprintf("jira API error: %d - %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAPIError reports whether err (or any error in its chain) is an APIError
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
