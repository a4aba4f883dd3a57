package workeragent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitReadyPassesImmediateTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a, err := New(Config{
		WorkerID: "w1",
		CacheDir: t.TempDir(),
		Probes:   []types.Probe{{Type: "tcp", Endpoint: ln.Addr().String()}},
	})
	require.NoError(t, err)

	assert.NoError(t, a.AwaitReady(context.Background()))
}

func TestAwaitReadyRetriesUntilFailureThreshold(t *testing.T) {
	a, err := New(Config{
		WorkerID: "w2",
		CacheDir: t.TempDir(),
		Probes: []types.Probe{{
			Type:             "tcp",
			Endpoint:         "127.0.0.1:1", // nothing listens here
			Period:           time.Millisecond,
			FailureThreshold: 3,
		}},
	})
	require.NoError(t, err)

	err = a.AwaitReady(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "never became healthy")
}

func TestAwaitReadyRejectsUnknownProbeType(t *testing.T) {
	a, err := New(Config{
		WorkerID: "w3",
		CacheDir: t.TempDir(),
		Probes:   []types.Probe{{Type: "carrier-pigeon"}},
	})
	require.NoError(t, err)

	err = a.AwaitReady(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown probe type")
}

func TestAwaitReadyNoProbesIsNoop(t *testing.T) {
	a, err := New(Config{WorkerID: "w4", CacheDir: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, a.AwaitReady(context.Background()))
}
