package plugin

import (
	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
)

// Chain is one storage instance's ordered, independent copy of the
// registered plugins. Dispatch order is fixed (registration order) and
// identical across all five hooks. Grounded on
// original_source/include/ipfixprobe/storage.hpp's pluginsPreCreate /
// pluginsPostCreate / pluginsPreUpdate / pluginsPostUpdate /
// pluginsPreExport helpers.
type Chain struct {
	plugins []Plugin
}

// NewChain builds a Chain by calling Copy() on each given plugin, so every
// storage instance dispatches to independent plugin state.
func NewChain(plugins []Plugin) *Chain {
	c := &Chain{plugins: make([]Plugin, len(plugins))}
	for i, p := range plugins {
		c.plugins[i] = p.Copy()
	}
	return c
}

// Plugins returns the chain's ordered plugin instances.
func (c *Chain) Plugins() []Plugin { return c.plugins }

func (c *Chain) PreCreate(p *packet.Packet) Flags {
	var flags Flags
	for _, pl := range c.plugins {
		flags |= pl.PreCreate(p)
	}
	return flags
}

func (c *Chain) PostCreate(r *flow.Record, p *packet.Packet) Flags {
	var flags Flags
	for _, pl := range c.plugins {
		flags |= pl.PostCreate(r, p)
	}
	return flags
}

func (c *Chain) PreUpdate(r *flow.Record, p *packet.Packet) Flags {
	var flags Flags
	for _, pl := range c.plugins {
		flags |= pl.PreUpdate(r, p)
	}
	return flags
}

func (c *Chain) PostUpdate(r *flow.Record, p *packet.Packet) Flags {
	var flags Flags
	for _, pl := range c.plugins {
		flags |= pl.PostUpdate(r, p)
	}
	return flags
}

// PreExport runs every plugin's PreExport hook. Unlike the other hooks
// this returns no flags; pre_export hooks run regardless of whether the
// export is a forced-for-reinsertion variant.
func (c *Chain) PreExport(r *flow.Record) {
	for _, pl := range c.plugins {
		pl.PreExport(r)
	}
}

// Close calls Close(printStats) on every plugin in the chain.
func (c *Chain) Close(printStats bool) {
	for _, pl := range c.plugins {
		pl.Close(printStats)
	}
}
