package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateExtensionIDIsStablePerName(t *testing.T) {
	id1 := AllocateExtensionID("test-registry-ext-a")
	id2 := AllocateExtensionID("test-registry-ext-a")
	require.Equal(t, id1, id2)

	id3 := AllocateExtensionID("test-registry-ext-b")
	require.NotEqual(t, id1, id3)
}

func TestAllocateExtensionIDConcurrentCallersAgree(t *testing.T) {
	const workers = 32
	ids := make(chan int, workers)
	for i := 0; i < workers; i++ {
		go func() { ids <- AllocateExtensionID("test-registry-ext-concurrent") }()
	}
	first := <-ids
	for i := 1; i < workers; i++ {
		require.Equal(t, first, <-ids)
	}
}

func TestRegisterAndLookup(t *testing.T) {
	Register("test-registry-stub", func() Plugin { return nil })
	_, ok := Lookup("test-registry-stub")
	require.True(t, ok)

	_, ok = Lookup("test-registry-does-not-exist")
	require.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("test-registry-dup", func() Plugin { return nil })
	require.Panics(t, func() {
		Register("test-registry-dup", func() Plugin { return nil })
	})
}
