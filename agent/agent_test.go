package agent

import (
	"testing"
	"time"

	"github.com/flowbotio/flowbot/config"
	"github.com/stretchr/testify/require"
)

func TestAgentLifecycle(t *testing.T) {
	conf := config.Config{
		StorageType:       config.STORAGE_TYPE_INMEM,
		HttpPort:          0,
		MaxSteps:          100,
		LockShards:        8,
		LockWaitTimeout:   time.Second,
		DeliveryTimeout:   time.Second,
		DelayTickSeconds:  1,
		DelayPollBatch:    10,
		GraphCacheTTL:     time.Minute,
		ResumeWorkerQueue: 16,
	}
	a, err := New(conf)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	time.Sleep(50 * time.Millisecond)

	// Graceful shutdown is a normal exit, twice over is a no-op.
	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
}

func TestAgentUnknownStorage(t *testing.T) {
	_, err := New(config.Config{StorageType: "bogus"})
	require.Error(t, err)
}
