package domain

import "fmt"

// Typed sentinel errors the router/pool/pending-queue surface to callers
// that branch on the failure kind, grounded on the teacher's
// ErrEndpointNotFound idiom (internal/core/domain/endpoint.go).

type ErrNoRouteFound struct {
	Host string
	Path string
}

func (e *ErrNoRouteFound) Error() string {
	return fmt.Sprintf("no route found for host=%q path=%q", e.Host, e.Path)
}

type ErrRuleHasNoUpstreams struct {
	MatchString string
}

func (e *ErrRuleHasNoUpstreams) Error() string {
	return fmt.Sprintf("rule %q has no configured upstreams", e.MatchString)
}

type ErrNoHealthyUpstream struct {
	RuleMatch string
}

func (e *ErrNoHealthyUpstream) Error() string {
	return fmt.Sprintf("no healthy upstream for rule %q", e.RuleMatch)
}

type ErrPendingQueueFull struct {
	MaxPending int
}

func (e *ErrPendingQueueFull) Error() string {
	return fmt.Sprintf("pending queue full (max_pending=%d)", e.MaxPending)
}

type ErrPendingTimeout struct {
	RuleMatch string
}

func (e *ErrPendingTimeout) Error() string {
	return fmt.Sprintf("pending timeout waiting for upstream matching rule %q", e.RuleMatch)
}

type ErrOriginNotFound struct {
	Name string
}

func (e *ErrOriginNotFound) Error() string {
	return fmt.Sprintf("origin not found: %s", e.Name)
}
