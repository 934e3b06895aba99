package results

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/eleven-am/product-lens/internal/detection"
)

func set(seq uint64, classes ...string) detection.PredictionSet {
	preds := make([]detection.Prediction, 0, len(classes))
	for _, c := range classes {
		preds = append(preds, detection.Prediction{Class: c, Confidence: 0.5})
	}
	return detection.PredictionSet{Sequence: seq, Predictions: preds}
}

func TestNewCache_Empty(t *testing.T) {
	c := NewCache()
	cur := c.Current()
	if cur.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", cur.Sequence)
	}
	if cur.Predictions == nil || len(cur.Predictions) != 0 {
		t.Errorf("expected empty predictions, got %v", cur.Predictions)
	}
}

func TestCache_StaleSetIsDropped(t *testing.T) {
	c := NewCache()

	if !c.Apply(set(5, "cola")) {
		t.Fatal("seq 5 should be accepted")
	}
	if c.Apply(set(3, "chips")) {
		t.Error("seq 3 should be rejected after seq 5")
	}

	cur := c.Current()
	if cur.Sequence != 5 {
		t.Errorf("expected seq 5, got %d", cur.Sequence)
	}
	if len(cur.Predictions) != 1 || cur.Predictions[0].Class != "cola" {
		t.Errorf("expected seq 5 predictions, got %v", cur.Predictions)
	}
}

func TestCache_EqualSequenceReplaces(t *testing.T) {
	c := NewCache()
	c.Apply(set(4, "a"))
	if !c.Apply(set(4, "b")) {
		t.Fatal("equal sequence should be accepted")
	}
	if c.Current().Predictions[0].Class != "b" {
		t.Error("expected the later set with equal sequence to win")
	}
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	c.Apply(set(9, "a"))
	c.Clear()

	if c.Sequence() != 0 {
		t.Errorf("expected sequence 0 after clear, got %d", c.Sequence())
	}
	if len(c.Current().Predictions) != 0 {
		t.Error("expected no predictions after clear")
	}
	if !c.Apply(set(1, "b")) {
		t.Error("low sequence should be accepted after clear")
	}
}

func TestCache_OutOfOrderKeepsHighest(t *testing.T) {
	c := NewCache()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		c.Clear()
		seqs := rng.Perm(30)
		var highest uint64
		for _, s := range seqs {
			seq := uint64(s + 1)
			c.Apply(set(seq, "x"))
			if seq > highest {
				highest = seq
			}
			if got := c.Sequence(); got != highest {
				t.Fatalf("round %d: expected highest %d, got %d", round, highest, got)
			}
		}
	}
}

func TestCache_ConcurrentApplyKeepsHighest(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Apply(set(uint64(i*8+offset+1), "x"))
				_ = c.Current()
			}
		}(w)
	}
	wg.Wait()

	if got := c.Sequence(); got != 1600 {
		t.Errorf("expected highest sequence 1600, got %d", got)
	}
}

func TestCache_CallerMutationDoesNotLeak(t *testing.T) {
	c := NewCache()
	in := set(1, "a")
	c.Apply(in)
	in.Predictions[0].Class = "mutated"

	out := c.Current()
	if out.Predictions[0].Class != "a" {
		t.Error("cache should not share the caller's slice")
	}
	out.Predictions[0].Class = "mutated"
	if c.Current().Predictions[0].Class != "a" {
		t.Error("snapshot mutation should not reach the cache")
	}
}
