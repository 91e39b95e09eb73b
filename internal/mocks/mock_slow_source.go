package mocks

import (
	"context"
	"time"

	"github.com/apereo/persondir/pkg/persondir"
)

// slowSource is a proxy to the actual source except resolution is delayed by
// resolveDelay. This allows simulating a slow backend so tests can check
// that merging waits for every source regardless of completion order.
type slowSource struct {
	resolveDelay time.Duration
	persondir.Source
}

// NewMockSlowSource returns a wrapper of a source that adds an artificial
// delay into resolution calls.
func NewMockSlowSource(src persondir.Source, resolveDelay time.Duration) persondir.Source {
	return &slowSource{
		resolveDelay: resolveDelay,
		Source:       src,
	}
}

func (m *slowSource) Resolve(ctx context.Context, query persondir.Query) ([]*persondir.Person, error) {
	time.Sleep(m.resolveDelay)
	return m.Source.Resolve(ctx, query)
}

func (m *slowSource) ResolveSubject(ctx context.Context, username string) (*persondir.Person, error) {
	time.Sleep(m.resolveDelay)
	return m.Source.ResolveSubject(ctx, username)
}
