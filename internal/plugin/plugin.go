// Package plugin defines the process-plugin capability set the cache
// dispatches hooks to, and the process-wide registry plugins register
// themselves into at init time. Grounded on
// original_source/include/ipfixprobe/storage.hpp (pluginsPreCreate /
// pluginsPostCreate / pluginsPreUpdate / pluginsPostUpdate /
// pluginsPreExport dispatch helpers).
package plugin

import (
	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
)

// Flags is the bitmask hooks return, interpreted by the cache. Kept as a
// flag return rather than an error or callback: simpler and faster than
// exceptions, and composes across multiple plugins by OR.
type Flags uint8

const (
	// FlowFlush requests the cache export the current record once all
	// plugins for this hook have run.
	FlowFlush Flags = 1 << iota
	// FlowFlushWithReinsert requests export plus immediate recreation of
	// a fresh record in the same slot from the same packet.
	FlowFlushWithReinsert
)

// Plugin is the capability set a process plugin implements: the five
// lifecycle hooks, an extension prototype accessor, and lifecycle
// management (Init/Copy/Close). One Plugin value is registered globally by
// name; each storage (cache) instance holds its own Copy().
type Plugin interface {
	// Name is the plugin's registration name, also used in -p plugin:params.
	Name() string

	// Init configures the plugin from its CLI/config parameter string.
	Init(params string) error

	// Copy returns a fresh instance carrying the same configuration,
	// used so each cache instance dispatches to independent plugin state.
	Copy() Plugin

	PreCreate(p *packet.Packet) Flags
	PostCreate(r *flow.Record, p *packet.Packet) Flags
	PreUpdate(r *flow.Record, p *packet.Packet) Flags
	PostUpdate(r *flow.Record, p *packet.Packet) Flags
	PreExport(r *flow.Record)

	// Extension returns a zero-value prototype of the extension type
	// this plugin attaches, used to enumerate IPFIX template fields
	// before any flow carrying one has been created.
	Extension() flow.Extension

	// Close releases plugin resources; printStats requests a final
	// human-readable summary be logged (mirrors the original's
	// finish(print_stats)).
	Close(printStats bool)
}

// Factory constructs a new, unconfigured Plugin instance.
type Factory func() Plugin
