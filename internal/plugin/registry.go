package plugin

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}

	// extensionIDs backs the global extension-ID allocator. Reads (the
	// hot path: every plugin instance resolving its own ID) go through
	// haxmap's lock-free Get; the rare write path (first registration of
	// a given extension name) is still serialised by extensionIDsMu so
	// two packages racing to allocate the same name never hand out two
	// different IDs for it. Extension IDs are written only at process
	// init and read-only thereafter, without assuming init() itself runs
	// single-threaded across package boundaries.
	extensionIDs   = haxmap.New[string, int]()
	extensionIDsMu sync.Mutex
	nextExtension  atomic.Int64
)

// maxExtensionID is the practical limit: the extension-set bitset backing
// IPFIX template identity is a uint64.
const maxExtensionID = 64

// Register adds a plugin factory under name. Called from each plugin
// package's init(), mirroring the original's constructor-time
// registration via Go's own init() mechanism instead of a custom
// constructor-registration macro.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin: duplicate registration for %q", name))
	}
	registry[name] = factory
}

// Lookup returns a fresh instance of the named plugin, or false if no
// plugin was registered under that name.
func Lookup(name string) (Plugin, bool) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Names returns every registered plugin name.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// AllocateExtensionID returns a stable small integer ID for the named
// extension type, assigning a new one on first call and returning the
// same value on every subsequent call for that name. Panics if the
// maxExtensionID bound is exceeded: widen the bitset rather than fall
// back to dynamic type comparisons, which this allocator makes
// impossible to do silently.
func AllocateExtensionID(name string) int {
	if id, ok := extensionIDs.Get(name); ok {
		return id
	}

	extensionIDsMu.Lock()
	defer extensionIDsMu.Unlock()

	if id, ok := extensionIDs.Get(name); ok {
		return id
	}

	id := int(nextExtension.Add(1)) - 1
	if id >= maxExtensionID {
		panic(fmt.Sprintf("plugin: extension ID space exhausted allocating %q (limit %d)", name, maxExtensionID))
	}
	extensionIDs.Set(name, id)
	return id
}
