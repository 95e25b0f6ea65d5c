package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecorateReturnsBareIPBeforeLookupCompletes(t *testing.T) {
	c := NewHostCache(time.Minute)
	require.Equal(t, "127.0.0.1", c.Decorate("127.0.0.1"))
}

func TestDecorateReusesPendingLookupWithoutRestarting(t *testing.T) {
	c := NewHostCache(time.Minute)
	c.Decorate("127.0.0.1")
	_, pending := c.entries["127.0.0.1"]
	require.True(t, pending)
	require.True(t, c.entries["127.0.0.1"].pending)
	first := c.entries["127.0.0.1"]

	// A second call while the lookup is still outstanding must not spawn
	// another goroutine or reset the entry.
	c.Decorate("127.0.0.1")
	require.Len(t, c.entries, 1)
	require.Same(t, first, c.entries["127.0.0.1"])
}

func TestPollAppliesCompletedLookup(t *testing.T) {
	c := NewHostCache(time.Minute)
	c.entries["10.0.0.1"] = &hostEntry{pending: true}
	c.results <- lookupResult{ip: "10.0.0.1", hostname: "ioc1.example.org"}

	c.Poll()

	e := c.entries["10.0.0.1"]
	require.False(t, e.pending)
	require.Equal(t, "ioc1.example.org", e.hostname)
	require.WithinDuration(t, time.Now().Add(time.Minute), e.expires, time.Second)
}

func TestDecorateFormatsResolvedEntry(t *testing.T) {
	c := NewHostCache(time.Minute)
	c.entries["10.0.0.2"] = &hostEntry{hostname: "ioc2.example.org", expires: time.Now().Add(time.Minute)}

	require.Equal(t, "10.0.0.2 (ioc2.example.org)", c.Decorate("10.0.0.2"))
}

func TestDecorateRequeriesExpiredEntry(t *testing.T) {
	c := NewHostCache(time.Minute)
	c.entries["10.0.0.3"] = &hostEntry{hostname: "stale.example.org", expires: time.Now().Add(-time.Second)}

	require.Equal(t, "10.0.0.3", c.Decorate("10.0.0.3"))
	require.True(t, c.entries["10.0.0.3"].pending, "an expired entry must kick off a fresh lookup")
}

func TestPollDrainsWithoutBlockingWhenResultsEmpty(t *testing.T) {
	c := NewHostCache(time.Minute)
	done := make(chan struct{})
	go func() {
		c.Poll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll blocked with no pending results")
	}
}
