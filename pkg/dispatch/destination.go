package dispatch

import "time"

// bMin is the minimum/initial backoff period, in seconds.
const bMin = 1.0

// maxBackoff caps the backoff/stale-period doubling.
const maxBackoff = 30.0

// Destination is a backend compute worker the router can forward
// tasks to. Port is the immutable lookup key; the remaining fields are
// mutated only inside Router.Select and Router.Update.
type Destination struct {
	Port uint16
	Hops int

	Weight     float64 // EWMA of observed latency, seconds; 0 = no samples yet
	Deficit    float64 // deficit-round-robin credit
	LastUpdate float64 // unix seconds of last update; -1 = never updated / in-probe
	Backoff    float64 // seconds before re-probe eligible; doubles on reject, capped at 30
	Expiry     time.Time

	InActiveSet bool
	InProbedSet bool
}

// NewDestination constructs a destination in its startup state, as
// configured once from CLI arguments at router startup (spec.md §3
// lifecycle: destinations are never added or removed at runtime).
func NewDestination(port uint16, hops int) *Destination {
	return &Destination{
		Port:       port,
		Hops:       hops,
		Weight:     0.0,
		Deficit:    0.0,
		LastUpdate: -1.0,
		Backoff:    bMin,
		Expiry:     time.Now(),
	}
}

// bumpBackoff doubles and caps the destination's backoff interval,
// and pushes its expiry out that far from now.
func (d *Destination) bumpBackoff(now time.Time) {
	d.Backoff = minF(2.0*d.Backoff, maxBackoff)
	d.Expiry = now.Add(time.Duration(d.Backoff * float64(time.Second)))
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
