package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgedispatch/pkg/dispatch"
)

func TestRoundRobinHeapNoDestinationsYieldsNotOK(t *testing.T) {
	h := dispatch.NewRoundRobinHeap()
	_, ok := h.SelectDestination()
	assert.False(t, ok, "an empty heap router has no active set to select from")
}

func TestRoundRobinHeapAdmitsAndRotates(t *testing.T) {
	h := dispatch.NewRoundRobinHeap()
	h.AddDestination(1)
	h.AddDestination(2)

	seen := map[uint16]int{}
	for i := 0; i < 20; i++ {
		port, ok := h.SelectDestination()
		require.True(t, ok)
		h.UpdateWeight(port, 5*time.Millisecond)
		seen[port]++
	}

	assert.Greater(t, seen[1], 0)
	assert.Greater(t, seen[2], 0)
}
