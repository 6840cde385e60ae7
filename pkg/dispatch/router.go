package dispatch

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Algorithm names one of the four selection policies a router can run.
type Algorithm int

const (
	LI Algorithm = iota
	RP
	RR
	AC
)

// ParseAlgorithm maps the router's CLI token to an Algorithm, the way
// the original e_router binary's argv[1] match does.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "LI":
		return LI, nil
	case "RP":
		return RP, nil
	case "RR":
		return RR, nil
	case "AC":
		return AC, nil
	default:
		return 0, fmt.Errorf("invalid algorithm %q: choose LI, RP, RR, or AC", s)
	}
}

func (a Algorithm) String() string {
	switch a {
	case LI:
		return "LI"
	case RP:
		return "RP"
	case RR:
		return "RR"
	case AC:
		return "AC"
	default:
		return "?"
	}
}

// Router holds the fixed destination list and the mutable selection
// state a policy reads and writes. A single mutex guards all of it:
// per spec.md's design notes, fine-grained per-destination locking
// would break the atomicity the active-set rebase step needs.
type Router struct {
	mu   sync.Mutex
	algo Algorithm

	order  []uint16 // configuration order, for LI/RP tie-breaks and iteration
	byPort map[uint16]*Destination

	rng *rand.Rand
	log *logrus.Entry
}

// NewRouter builds a router from a fixed destination list, in the
// order given — that order is load-bearing for LI's and RP's
// configured-order tie-breaks.
func NewRouter(algo Algorithm, destinations []*Destination, log *logrus.Entry) *Router {
	r := &Router{
		algo:   algo,
		order:  make([]uint16, 0, len(destinations)),
		byPort: make(map[uint16]*Destination, len(destinations)),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:    log,
	}
	for _, d := range destinations {
		r.order = append(r.order, d.Port)
		r.byPort[d.Port] = d
	}
	return r
}

// Select runs select_destination under the router lock and returns
// the chosen port. ok is false when the router has no destinations,
// or when the RR policy has no candidate (its active set and probe
// candidates are both empty).
func (r *Router) Select() (port uint16, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()

	switch r.algo {
	case LI:
		return r.selectLeastImpedance()
	case RP:
		return r.selectRandomProportional()
	case AC:
		return r.selectAlwaysClosest()
	case RR:
		return r.selectRoundRobin(now)
	default:
		return 0, false
	}
}

// Update runs update_weight under the router lock after a completed
// forward; Server does not call it when a forward fails.
func (r *Router) Update(port uint16, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()

	switch r.algo {
	case LI, RP:
		r.updateEWMA(port, latency)
	case RR:
		r.updateRoundRobin(port, latency, now)
	case AC:
		// state-free
	}
}

// selectLeastImpedance returns the destination with the smallest
// weight, ties broken by configured order (spec.md §4.2 LI).
func (r *Router) selectLeastImpedance() (uint16, bool) {
	if len(r.order) == 0 {
		return 0, false
	}
	best := r.order[0]
	bestWeight := r.byPort[best].Weight
	for _, p := range r.order[1:] {
		w := r.byPort[p].Weight
		if w < bestWeight {
			best = p
			bestWeight = w
		}
	}
	return best, true
}

// selectAlwaysClosest returns the destination with the smallest hop
// count; state-free, ties broken by configured order.
func (r *Router) selectAlwaysClosest() (uint16, bool) {
	if len(r.order) == 0 {
		return 0, false
	}
	best := r.order[0]
	bestHops := r.byPort[best].Hops
	for _, p := range r.order[1:] {
		h := r.byPort[p].Hops
		if h < bestHops {
			best = p
			bestHops = h
		}
	}
	return best, true
}

// updateEWMA applies the LI/RP latency smoothing rule: first sample
// is taken verbatim, subsequent samples blend at alpha=0.95.
func (r *Router) updateEWMA(port uint16, latency time.Duration) {
	d, ok := r.byPort[port]
	if !ok {
		return
	}
	const alpha = 0.95
	latSec := latency.Seconds()
	if d.Weight == 0 {
		d.Weight = latSec
	} else {
		d.Weight = alpha*d.Weight + (1-alpha)*latSec
	}
}
