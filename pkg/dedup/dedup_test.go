package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcessOncePerWindow(t *testing.T) {
	d := New(time.Minute, 100)

	assert.True(t, d.ShouldProcess("cmd-1"))
	assert.False(t, d.ShouldProcess("cmd-1"))
	assert.True(t, d.ShouldProcess("cmd-2"))
}

func TestExpiredEntryProcessesAgain(t *testing.T) {
	d := New(20*time.Millisecond, 100)

	assert.True(t, d.ShouldProcess("cmd-1"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, d.ShouldProcess("cmd-1"))
}

func TestEmptyIDAlwaysProcesses(t *testing.T) {
	d := New(time.Minute, 100)
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))
}

func TestShouldProcessPayloadByContent(t *testing.T) {
	d := New(time.Minute, 100)

	first := []byte(`{"command":"START_STREAM"}`)
	assert.True(t, d.ShouldProcessPayload(first))
	// A broker redelivery is byte-identical and must be dropped.
	assert.False(t, d.ShouldProcessPayload([]byte(`{"command":"START_STREAM"}`)))

	assert.True(t, d.ShouldProcessPayload([]byte(`{"command":"STOP_STREAM"}`)))
}

func TestDefaultsApplied(t *testing.T) {
	d := New(0, 0)
	assert.Equal(t, 10*time.Minute, d.ttl)
	assert.Equal(t, 10000, d.max)
}
