package core

import "errors"

var (
	// ErrHubStopped is returned by Publish once the hub loop has exited.
	ErrHubStopped = errors.New("hub stopped")
)
