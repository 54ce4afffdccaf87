// Package provision drives a switch through the serial-console firmware burn:
// bootloader, rescue OS, image download, install, reboot, post-boot settling.
package provision

import "sync"

// Registry tracks which device network identities have already been (or are
// being) burned in this run. Test topologies routinely declare the same
// physical switch behind several device entries; the registry guarantees the
// image is burned at most once per process lifetime.
type Registry struct {
	mu     sync.Mutex
	burned map[string]bool
}

// NewRegistry creates an empty burn-once registry. One registry is shared by
// all devices of a run; it is injected, never global.
func NewRegistry() *Registry {
	return &Registry{burned: make(map[string]bool)}
}

// MarkIfNew atomically checks and marks an identity. It returns true if the
// identity was not yet marked, meaning the caller owns the burn. The mark is
// never removed, even when the burn later fails: recovery is a retry of the
// whole run, not of a single device.
func (r *Registry) MarkIfNew(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.burned[identity] {
		return false
	}
	r.burned[identity] = true
	return true
}

// Burned reports whether an identity has been marked.
func (r *Registry) Burned(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.burned[identity]
}
