// Package errs centralizes the cross-cutting typed errors shared by the
// pipeline, handoff, and Jira sync engines. Each is a small struct carrying
// only the fields its case needs, unlike the Type/Message/Err/Context shape
// of the package-local errors (jira/client.ClientError, gitops.GitError).
package errs

import "fmt"

// InvalidStateTransitionError is returned when a pipeline transition is
// attempted from a state that has no edge for the given event.
type InvalidStateTransitionError struct {
	PipelineID string
	FromState  string
	Event      string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("pipeline %s: no transition for event %q from state %q", e.PipelineID, e.Event, e.FromState)
}

// PipelineLockError is returned when a pipeline's distributed lock is held
// by another holder at the time of acquisition.
type PipelineLockError struct {
	PipelineID string
	Holder     string
}

func (e *PipelineLockError) Error() string {
	return fmt.Sprintf("pipeline %s: locked by %s", e.PipelineID, e.Holder)
}

// CoordinationRuleViolationError is returned when a handoff would violate
// one of the handoff coordinator's rules.
type CoordinationRuleViolationError struct {
	Rule    string
	Message string
}

func (e *CoordinationRuleViolationError) Error() string {
	return fmt.Sprintf("coordination rule %q violated: %s", e.Rule, e.Message)
}

// CircularDependencyError is returned when adding a story dependency would
// create a cycle in the dependency graph.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %v", e.Cycle)
}

// RateLimitError is returned by the Jira client when the upstream API has
// signalled the caller should back off.
type RateLimitError struct {
	RetryAfterSeconds int
	Message           string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds: %s", e.RetryAfterSeconds, e.Message)
}

// NotFoundException is returned when a requested entity does not exist.
type NotFoundException struct {
	Resource string
	ID       string
}

func (e *NotFoundException) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ConflictException is returned when an operation would violate a
// uniqueness or state invariant (e.g. a sync item already linked).
type ConflictException struct {
	Resource string
	Message  string
}

func (e *ConflictException) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// ForbiddenException is returned when the caller lacks the BYOK secret or
// permission required for an operation.
type ForbiddenException struct {
	Message string
}

func (e *ForbiddenException) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Message)
}

// UnauthorizedException is returned for failed/expired credentials.
type UnauthorizedException struct {
	Message string
}

func (e *UnauthorizedException) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Message)
}

// SessionCapExceededError is returned when a workspace already has its
// maximum number of concurrently running CLI agent sessions.
type SessionCapExceededError struct {
	WorkspaceID string
	Limit       int
}

func (e *SessionCapExceededError) Error() string {
	return fmt.Sprintf("workspace %s already has %d concurrent agent sessions running", e.WorkspaceID, e.Limit)
}

func IsSessionCapExceeded(err error) bool {
	_, ok := err.(*SessionCapExceededError)
	return ok
}

// Is* helpers follow pkg/client.IsAuthenticationError's convention of
// type-switch helpers rather than errors.As at every call site.

func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundException)
	return ok
}

func IsConflict(err error) bool {
	_, ok := err.(*ConflictException)
	return ok
}

func IsForbidden(err error) bool {
	_, ok := err.(*ForbiddenException)
	return ok
}

func IsUnauthorized(err error) bool {
	_, ok := err.(*UnauthorizedException)
	return ok
}

func IsInvalidStateTransition(err error) bool {
	_, ok := err.(*InvalidStateTransitionError)
	return ok
}

func IsRateLimit(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}
