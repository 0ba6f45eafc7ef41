package microstructure

import (
	"math"

	"Chronos/internal/domain/models"
)

// vpinBuckets partitions traded volume into equal-volume buckets. A print
// larger than the space left in the current bucket spills into the next one.
type vpinBuckets struct {
	size       float64
	buy, sell  float64
	imbalances *rolling
}

func newVPINBuckets(size float64, k int) *vpinBuckets {
	return &vpinBuckets{size: size, imbalances: newRolling(k)}
}

func (v *vpinBuckets) add(qty float64, side models.Side) {
	eps := v.size * 1e-12
	for qty > eps {
		take := math.Min(qty, v.size-(v.buy+v.sell))
		if side == models.SideBuy {
			v.buy += take
		} else {
			v.sell += take
		}
		qty -= take
		if v.buy+v.sell >= v.size-eps {
			v.imbalances.push(math.Abs(v.buy-v.sell) / v.size)
			v.buy, v.sell = 0, 0
		}
	}
}

func (v *vpinBuckets) ready() bool { return v.imbalances.full() }

func (v *vpinBuckets) value() float64 {
	if !v.ready() {
		return 0
	}
	return clamp(v.imbalances.mean(), 0, 1)
}
