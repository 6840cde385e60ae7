package dispatch

import (
	"container/heap"
	"sync"
	"time"
)

// RoundRobinHeap is the alternative RR realization spec.md §4.3
// describes: a per-destination cache rebuilt into a min-deficit heap
// on every update, instead of the plain-set linear scan Router uses.
// Design Notes calls the two realizations equivalent; this one trades
// O(|active|) selection for O(log n) at the cost of a full rebuild per
// update. It is wired into cmd/router behind --rr-variant=heap.
type RoundRobinHeap struct {
	mu    sync.Mutex
	cache map[uint16]*heapEntry
	order []uint16
	pq    deficitQueue
}

type heapEntry struct {
	weight      float64
	deficit     float64
	lastUpdated float64 // unix seconds, -1 sentinel
	removed     bool
	probing     bool
	stalePeriod float64 // seconds
}

type queueItem struct {
	port    uint16
	deficit float64
}

// deficitQueue is a container/heap min-heap ordered by deficit.
//
// The original Rust source (original_source/src/bin/e_router_v3.rs)
// orders its BinaryHeap by the same Ord it uses here but never wraps
// it in Reverse, which makes Rust's (max-)BinaryHeap pop the largest
// deficit rather than the smallest. That contradicts the plain-set
// variant's "pick smallest deficit" rule (spec.md §4.2 step 3) and
// would break the weak-fairness invariant (spec.md §8 property 3), so
// this port uses a genuine min-heap instead. See DESIGN.md.
type deficitQueue []queueItem

func (q deficitQueue) Len() int            { return len(q) }
func (q deficitQueue) Less(i, j int) bool  { return q[i].deficit < q[j].deficit }
func (q deficitQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *deficitQueue) Push(x interface{}) { *q = append(*q, x.(queueItem)) }
func (q *deficitQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// NewRoundRobinHeap builds an empty heap-backed router; destinations
// are added with AddDestination before serving any requests.
func NewRoundRobinHeap() *RoundRobinHeap {
	return &RoundRobinHeap{cache: make(map[uint16]*heapEntry)}
}

// AddDestination registers a destination at startup, mirroring
// e_router_v3.rs's add_destination (deficit starts at 2.0 in that
// variant, not 0, per spec.md §3's "(or 2.0 at add-time in the v3
// variant)").
func (h *RoundRobinHeap) AddDestination(port uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = append(h.order, port)
	h.cache[port] = &heapEntry{
		weight:      0,
		deficit:     2.0,
		lastUpdated: -1,
		stalePeriod: 1.0,
	}
	h.rebuild(time.Now())
}

// SelectDestination pops the smallest-deficit active entry, credits
// its deficit by its own weight, and returns it. ok is false when the
// active set is empty (spec.md §4.1: reply "No destination available").
func (h *RoundRobinHeap) SelectDestination() (port uint16, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pq.Len() == 0 {
		return 0, false
	}
	item := heap.Pop(&h.pq).(queueItem)
	e, exists := h.cache[item.port]
	if !exists || e.removed {
		return 0, false
	}
	e.deficit += e.weight
	heap.Push(&h.pq, queueItem{port: item.port, deficit: e.deficit})
	return item.port, true
}

// UpdateWeight applies the post-task latency sample and rebuilds the
// active set, mirroring e_router_v3.rs's update_weight.
func (h *RoundRobinHeap) UpdateWeight(port uint16, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.cache[port]
	if !ok {
		return
	}
	// last_updated is managed entirely by rebuild's branches (it marks
	// admission time, probe-start, and probe-pending); setting it here
	// too would stomp the never-updated sentinel before rebuild gets a
	// chance to read it.
	e.weight = latency.Seconds()
	h.rebuild(time.Now())
}

// Select is SelectDestination under the name Server's Selector
// interface expects, so a heap-backed router can sit behind the same
// request pipeline as the plain-set Router.
func (h *RoundRobinHeap) Select() (uint16, bool) {
	return h.SelectDestination()
}

// Update is UpdateWeight under the name Server's Selector interface
// expects.
func (h *RoundRobinHeap) Update(port uint16, latency time.Duration) {
	h.UpdateWeight(port, latency)
}

// Snapshot returns every non-removed destination's state in
// add-order, satisfying the same read-only contract Router.Snapshot
// gives the admin surface.
func (h *RoundRobinHeap) Snapshot() []DestinationSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	active := make(map[uint16]bool, len(h.pq))
	for _, item := range h.pq {
		active[item.port] = true
	}

	out := make([]DestinationSnapshot, 0, len(h.order))
	for _, port := range h.order {
		e := h.cache[port]
		if e.removed {
			continue
		}
		out = append(out, DestinationSnapshot{
			Port:        port,
			Weight:      e.weight,
			Deficit:     e.deficit,
			Backoff:     e.stalePeriod,
			InActiveSet: active[port],
			InProbedSet: e.probing,
		})
	}
	return out
}

// AlgorithmName reports the fixed policy name, matching the admin
// Source interface Router also satisfies.
func (h *RoundRobinHeap) AlgorithmName() string {
	return "RR (v3 heap)"
}

// rebuild recomputes which cache entries are active and refills the
// heap with exactly those, per spec.md §4.3's update_active_set.
func (h *RoundRobinHeap) rebuild(now time.Time) {
	nowSec := unixSeconds(now)
	count := 0
	minWeight := 0.0
	minDeficit := 0.0
	haveWeight, haveDeficit := false, false
	for _, e := range h.cache {
		if e.removed {
			continue
		}
		count++
		if !haveWeight || e.weight < minWeight {
			minWeight = e.weight
			haveWeight = true
		}
		if !haveDeficit || e.deficit < minDeficit {
			minDeficit = e.deficit
			haveDeficit = true
		}
	}

	h.pq = h.pq[:0]
	for _, port := range h.order {
		e := h.cache[port]
		if e.removed {
			continue
		}
		active := false

		switch {
		case count == 1 || e.weight <= 2.0*minWeight:
			e.probing = false
			e.lastUpdated = nowSec
			e.stalePeriod = 1.0
			active = true
		case e.lastUpdated < 0:
			active = true
		default:
			if e.probing {
				e.probing = false
				e.lastUpdated = nowSec
				e.stalePeriod = minF(2.0*e.stalePeriod, maxBackoff)
			}
			if nowSec-e.lastUpdated >= e.stalePeriod {
				e.probing = true
				e.lastUpdated = -1
				e.deficit = minDeficit
				active = true
			}
		}

		if active {
			h.pq = append(h.pq, queueItem{port: port, deficit: e.deficit})
		}
	}
	heap.Init(&h.pq)
}
