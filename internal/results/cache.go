package results

import (
	"slices"
	"sync/atomic"

	"github.com/eleven-am/product-lens/internal/detection"
)

var emptySet = &detection.PredictionSet{Predictions: []detection.Prediction{}}

// Cache holds the prediction set the overlay renders from. Reads never block
// and writes only move the sequence forward until Clear.
type Cache struct {
	held atomic.Pointer[detection.PredictionSet]
}

func NewCache() *Cache {
	c := &Cache{}
	c.held.Store(emptySet)
	return c
}

// Apply reports whether set replaced the held set. Older sequences are
// dropped without error.
func (c *Cache) Apply(set detection.PredictionSet) bool {
	next := &detection.PredictionSet{
		Sequence:    set.Sequence,
		Predictions: slices.Clone(set.Predictions),
		ReceivedAt:  set.ReceivedAt,
	}
	if next.Predictions == nil {
		next.Predictions = []detection.Prediction{}
	}

	for {
		current := c.held.Load()
		if set.Sequence < current.Sequence {
			return false
		}
		if c.held.CompareAndSwap(current, next) {
			return true
		}
	}
}

func (c *Cache) Clear() {
	c.held.Store(emptySet)
}

func (c *Cache) Current() detection.PredictionSet {
	held := c.held.Load()
	return detection.PredictionSet{
		Sequence:    held.Sequence,
		Predictions: slices.Clone(held.Predictions),
		ReceivedAt:  held.ReceivedAt,
	}
}

func (c *Cache) Sequence() uint64 {
	return c.held.Load().Sequence
}
