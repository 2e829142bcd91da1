package client

import "fmt"

// ClientError mirrors pkg/client.ClientError's shape, generalized to the
// Jira REST v3 API this package talks to instead of the JQL/search surface
// the original client exposed.
type ClientError struct {
	Type    string
	Message string
	Err     error
	Context string
}

func (e *ClientError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("jira client error (%s) for %s: %s", e.Type, e.Context, e.Message)
	}
	return fmt.Sprintf("jira client error (%s): %s", e.Type, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Err }
