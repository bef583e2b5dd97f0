package internal

import (
	"context"

	"github.com/SgtCoDFish/PlayPG/internal/core/client"
)

// Backend is a server that takes ownership of the connections a frontend
// accepts and services them on its own loops.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before the frontend opens its socket. An error here
	// means the server cannot accept connections.
	Init(ctx context.Context) error

	// Admit hands a newly accepted connection to the backend. It must not block.
	Admit(c *client.Client)

	// Run services admitted connections until ctx is cancelled, then closes
	// them.
	Run(ctx context.Context)
}
