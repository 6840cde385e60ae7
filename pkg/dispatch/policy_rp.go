package dispatch

import "gonum.org/v1/gonum/stat/distuv"

// selectRandomProportional draws a destination with probability
// proportional to 1/weight (spec.md §4.2 RP). The draw itself is
// delegated to gonum's categorical sampler instead of hand-rolling the
// cumulative-sum walk, the way Pranshu258-OpenPrequal's probe package
// delegates its median computation to gonum/stat rather than
// reimplementing it.
//
// RP is undefined while any destination still carries the
// no-samples-yet sentinel weight of 0 (division by zero); until every
// destination has received at least one sample, selection falls back
// to Least-Impedance.
func (r *Router) selectRandomProportional() (uint16, bool) {
	if len(r.order) == 0 {
		return 0, false
	}
	for _, p := range r.order {
		if r.byPort[p].Weight == 0 {
			return r.selectLeastImpedance()
		}
	}

	weights := make([]float64, len(r.order))
	for i, p := range r.order {
		weights[i] = 1.0 / r.byPort[p].Weight
	}

	dist := distuv.NewCategorical(weights, r.rng)
	idx := int(dist.Rand())
	return r.order[idx], true
}
