package dispatch

import (
	"testing"
	"time"
)

// TestBumpBackoffDoublesAndCapsAt30 exercises the raw doubling rule
// (spec.md §3 invariant: "backoff ∈ [b_min, 30.0]", §4.3's reject
// branch) directly against Destination, without needing real
// wall-clock gaps between reject cycles the way a Router-driven
// scenario would.
func TestBumpBackoffDoublesAndCapsAt30(t *testing.T) {
	d := NewDestination(1, 0)
	now := time.Now()

	if d.Backoff != bMin {
		t.Fatalf("initial backoff = %v, want b_min = %v", d.Backoff, bMin)
	}

	want := []float64{2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		d.bumpBackoff(now)
		if d.Backoff != w {
			t.Fatalf("after bump %d: backoff = %v, want %v", i+1, d.Backoff, w)
		}
		wantExpiry := now.Add(time.Duration(d.Backoff * float64(time.Second)))
		if !d.Expiry.Equal(wantExpiry) {
			t.Fatalf("after bump %d: expiry = %v, want %v", i+1, d.Expiry, wantExpiry)
		}
	}
}
