package dispatch

// DestinationSnapshot is a read-only copy of one destination's state,
// taken under the router lock, for the admin surface to render without
// exposing Router's internals.
type DestinationSnapshot struct {
	Port        uint16
	Hops        int
	Weight      float64
	Deficit     float64
	Backoff     float64
	InActiveSet bool
	InProbedSet bool
}

// Snapshot returns every destination's state in configured order.
func (r *Router) Snapshot() []DestinationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DestinationSnapshot, 0, len(r.order))
	for _, p := range r.order {
		d := r.byPort[p]
		out = append(out, DestinationSnapshot{
			Port:        d.Port,
			Hops:        d.Hops,
			Weight:      d.Weight,
			Deficit:     d.Deficit,
			Backoff:     d.Backoff,
			InActiveSet: d.InActiveSet,
			InProbedSet: d.InProbedSet,
		})
	}
	return out
}

// AlgorithmName exposes the configured policy for display, without
// letting the admin package reach into Router's unexported fields.
func (r *Router) AlgorithmName() string {
	return r.algo.String()
}
