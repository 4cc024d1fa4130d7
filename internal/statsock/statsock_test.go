package statsock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServeAndQueryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.sock")
	want := Snapshot{
		Inputs:  []InputStats{{PacketsRead: 10, PacketsDropped: 1}},
		Outputs: []OutputStats{{FlowsExported: 42}},
	}
	srv, err := Listen(path, func() Snapshot { return want }, nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	got, err := Query(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSocketPathFallsBackWhenVarRunMissing(t *testing.T) {
	path := SocketPath(1234)
	require.Contains(t, path, "ipfixprobe_1234.sock")
}
