package dispatch

import "time"

// unixSeconds converts a wall-clock instant to the float64-seconds
// representation spec.md's data model uses for last_update/expiry
// comparisons (mirroring the original e_router's
// `duration_since(UNIX_EPOCH).as_secs_f64()`).
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// selectRoundRobin implements the active-set/probing selection rule
// (spec.md §4.2 RR): prefer a fresh probe if one is ready, else the
// smallest-deficit member of the active set.
//
// Candidate readiness reconciles an inconsistency between spec.md's
// data model (§3: "expiry: time after which the destination is again
// probe-eligible") and its selection-rule prose (§4.2 step 1, copied
// from the original Rust's `c.expiry > now` literally). Read literally
// the Rust condition can never admit a freshly constructed destination
// to the candidate set, since expiry is stamped at construction and is
// always in the past by the time the first request arrives — no
// destination would ever receive its first probe. This implementation
// follows §3's stated semantics instead: a destination is a probe
// candidate once `now` has reached its expiry, not before. See
// DESIGN.md.
//
// Active-set members are also excluded here. §4.2's own framing is
// "periodically probe non-active destinations" — probing is how a
// dormant destination earns a shot at (re-)admission, not a parallel
// channel that keeps firing at destinations already in the rotation.
// Admission never advances Expiry (it stays wherever bumpBackoff last
// left it, typically in the past), so without this exclusion an
// already-admitted, never-rejected destination remains "probe ready"
// forever: every Select call would take the random-probe branch
// instead of the deficit-minimum branch below, and deficit credit
// would never accumulate. Demotion (updateRoundRobinUnprobed) leaves
// Expiry untouched too, so a freshly demoted destination is
// immediately probe-eligible again once it drops out of the active
// set — which is the intended re-probe behavior.
func (r *Router) selectRoundRobin(now time.Time) (uint16, bool) {
	var candidates []uint16
	for _, p := range r.order {
		d := r.byPort[p]
		if d.InProbedSet || d.InActiveSet {
			continue
		}
		if !d.Expiry.After(now) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) > 0 {
		pick := candidates[r.rng.Intn(len(candidates))]
		r.byPort[pick].InProbedSet = true
		return pick, true
	}

	var best uint16
	haveBest := false
	for _, p := range r.order {
		d := r.byPort[p]
		if !d.InActiveSet {
			continue
		}
		if !haveBest || d.Deficit < r.byPort[best].Deficit {
			best = p
			haveBest = true
		}
	}
	if !haveBest {
		return 0, false
	}
	r.byPort[best].Deficit += r.byPort[best].Weight
	return best, true
}

// minActiveWeight returns the smallest weight among active-set
// members, or 0 if the active set is empty.
func (r *Router) minActiveWeight() float64 {
	min := 0.0
	have := false
	for _, p := range r.order {
		d := r.byPort[p]
		if !d.InActiveSet {
			continue
		}
		if !have || d.Weight < min {
			min = d.Weight
			have = true
		}
	}
	return min
}

// minActiveDeficit returns the smallest deficit among active-set
// members, or 0 if the active set is empty.
func (r *Router) minActiveDeficit() float64 {
	min := 0.0
	have := false
	for _, p := range r.order {
		d := r.byPort[p]
		if !d.InActiveSet {
			continue
		}
		if !have || d.Deficit < min {
			min = d.Deficit
			have = true
		}
	}
	return min
}

// updateRoundRobin implements update_weight for RR (spec.md §4.3),
// dispatching to the probed or unprobed branch depending on whether p
// had an outstanding probe at entry.
func (r *Router) updateRoundRobin(port uint16, latency time.Duration, now time.Time) {
	d, ok := r.byPort[port]
	if !ok {
		return
	}
	latSec := latency.Seconds()

	if d.InProbedSet {
		r.updateRoundRobinProbed(d, latSec, now)
	} else {
		r.updateRoundRobinUnprobed(d, latSec)
	}
	d.LastUpdate = unixSeconds(now)
}

func (r *Router) updateRoundRobinProbed(d *Destination, latSec float64, now time.Time) {
	d.InProbedSet = false
	wMin := r.minActiveWeight()
	activeCount := r.activeSetSize()

	if latSec <= 2.0*wMin || activeCount < 2 {
		// Admit: rebase every active member's deficit against the
		// current minimum, then bring p in.
		deltaMin := r.minActiveDeficit()
		for _, p := range r.order {
			other := r.byPort[p]
			if other.InActiveSet {
				other.Deficit -= deltaMin
			}
		}
		d.InActiveSet = true
		d.Weight = latSec
		// Open question (spec.md §9): deficit[p] on admit is set to
		// deltaMin (the v3 heap variant's convention) rather than
		// latSec, so the plain-set and heap implementations agree.
		d.Deficit = deltaMin
		d.Backoff = bMin
		return
	}

	// Reject.
	if d.LastUpdate < 0 {
		// First update for this destination: admit without touching backoff.
		d.InActiveSet = true
		return
	}
	d.bumpBackoff(now)
	if unixSeconds(now)-d.LastUpdate >= d.Backoff {
		// Stale timer expired: re-probe.
		d.LastUpdate = -1
		d.Deficit = r.minActiveDeficit()
		d.InProbedSet = true
		d.InActiveSet = true
	}
}

func (r *Router) updateRoundRobinUnprobed(d *Destination, latSec float64) {
	const alpha = 0.95
	if d.Weight == 0 {
		d.Weight = latSec
	} else {
		d.Weight = alpha*d.Weight + (1-alpha)*latSec
	}
	wMin := r.minActiveWeight()
	if d.Weight > 2.0*wMin {
		d.InActiveSet = false
	}
}

func (r *Router) activeSetSize() int {
	n := 0
	for _, p := range r.order {
		if r.byPort[p].InActiveSet {
			n++
		}
	}
	return n
}
