package voice

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a DisabledClient.
var ErrNotConfigured = errors.New("voice assistant is not configured")

// DisabledClient stands in when no gateway URL or public key is set.
// Connect fails so the session lands in ERROR with a visible message.
type DisabledClient struct {
	*Emitter
}

// NewDisabledClient returns a client that never becomes ready.
func NewDisabledClient() *DisabledClient {
	return &DisabledClient{Emitter: NewEmitter()}
}

func (d *DisabledClient) Connect(context.Context) error { return ErrNotConfigured }

func (d *DisabledClient) Start(context.Context, StartOptions) error { return ErrNotConfigured }

func (d *DisabledClient) Stop(context.Context) error { return nil }
