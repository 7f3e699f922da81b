// Package platform selects an operating profile for the remote host. A
// registry of candidate platforms is probed once at startup through the
// shared command executor; selection is deterministic and can never fail.
package platform

import (
	"context"

	"github.com/remotediag/remotediag/internal/transport"
)

// Executor runs a command on the remote host. Detection probes receive it
// instead of the connection manager so registries can be tested in
// isolation.
type Executor func(ctx context.Context, command string) (transport.Result, error)

// Platform describes one operating profile. Instances are registered once
// at startup and are immutable afterwards.
type Platform struct {
	// ID is the stable identifier, e.g. "linux".
	ID string

	// DisplayName is a human-readable name for logs.
	DisplayName string

	// Capabilities lists the remote utilities this profile can rely on.
	Capabilities []string

	// ToolModules names the diagnostic tool sets the dispatch layer
	// should load for this profile.
	ToolModules []string

	// Detect probes the remote host and returns a confidence score in
	// the range 0-100. Returning an error (or panicking) marks the
	// profile absent for this host; it never fails detection as a whole.
	Detect func(ctx context.Context, run Executor) (int, error)
}

// HasCapability reports whether the profile lists the named capability.
func (p *Platform) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
