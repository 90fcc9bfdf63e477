package settle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func net(edges []Edge) map[string]int64 {
	out := make(map[string]int64)
	for _, e := range edges {
		out[e.Lender] += e.Value
		out[e.Borrower] -= e.Value
	}
	return out
}

func assertSettles(t *testing.T, balances map[string]int64, edges []Edge) {
	t.Helper()
	got := net(edges)
	for id, balance := range balances {
		assert.Equal(t, balance, got[id], "net position of %s", id)
	}
	for id, v := range got {
		if _, ok := balances[id]; !ok {
			assert.Zero(t, v, "edge touches unknown user %s", id)
		}
	}

	pairs := make(map[[2]string]bool)
	for _, e := range edges {
		assert.Positive(t, e.Value)
		assert.NotEqual(t, e.Borrower, e.Lender)
		key := [2]string{min(e.Borrower, e.Lender), max(e.Borrower, e.Lender)}
		assert.False(t, pairs[key], "pair %v appears twice", key)
		pairs[key] = true
	}
}

func TestSimplify_SinglePair(t *testing.T) {
	edges := Simplify(map[string]int64{"x": 1000, "y": -1000})
	require.Equal(t, []Edge{{Borrower: "y", Lender: "x", Value: 1000}}, edges)
}

func TestSimplify_ChainCollapses(t *testing.T) {
	// a lent b 500, b lent c 500
	balances := map[string]int64{"a": 500, "b": 0, "c": -500}
	edges := Simplify(balances)
	require.Equal(t, []Edge{{Borrower: "c", Lender: "a", Value: 500}}, edges)
}

func TestSimplify_EmptyAndAllZero(t *testing.T) {
	assert.Empty(t, Simplify(nil))
	assert.Empty(t, Simplify(map[string]int64{"a": 0, "b": 0}))
}

func TestSimplify_LargestFirstWithIdentityTieBreak(t *testing.T) {
	balances := map[string]int64{
		"carol": 300,
		"bob":   300,
		"dave":  -400,
		"erin":  -200,
	}
	edges := Simplify(balances)
	require.Equal(t, []Edge{
		{Borrower: "dave", Lender: "bob", Value: 300},
		{Borrower: "erin", Lender: "carol", Value: 200},
		{Borrower: "dave", Lender: "carol", Value: 100},
	}, edges)
	assertSettles(t, balances, edges)
}

func TestSimplify_Deterministic(t *testing.T) {
	balances := map[string]int64{"a": 10, "b": 10, "c": 10, "d": -10, "e": -10, "f": -10}
	first := Simplify(balances)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Simplify(balances))
	}
}

func TestSimplify_RandomBalancesSettle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(12)
		balances := make(map[string]int64, n)
		var sum int64
		for i := 0; i < n-1; i++ {
			v := rng.Int63n(20_000) - 10_000
			balances[fmt.Sprintf("u%02d", i)] = v
			sum += v
		}
		balances[fmt.Sprintf("u%02d", n-1)] = -sum

		edges := Simplify(balances)
		assertSettles(t, balances, edges)

		nonZero := 0
		for _, v := range balances {
			if v != 0 {
				nonZero++
			}
		}
		if nonZero > 0 {
			assert.LessOrEqual(t, len(edges), nonZero-1)
		}
	}
}
