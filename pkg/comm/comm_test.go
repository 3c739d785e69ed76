package comm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// runAll executes fn concurrently on every member of a fresh group and
// returns per-rank results once all have finished.
func runAll(t *testing.T, size int, fn func(c Communicator) (interface{}, error)) []interface{} {
	t.Helper()
	group, err := NewGroup(size)
	require.NoError(t, err)

	results := make([]interface{}, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			results[r], errs[r] = fn(group[r])
		}(r)
	}
	wg.Wait()

	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
	return results
}

func TestAllReduceSum(t *testing.T) {
	size := 4
	results := runAll(t, size, func(c Communicator) (interface{}, error) {
		local := []float64{float64(c.Rank()), 1.0}
		return c.AllReduceSum(context.Background(), local)
	})

	// Sum of ranks 0..3 is 6; every member sees the same total.
	for r := 0; r < size; r++ {
		got := results[r].([]float64)
		assert.Equal(t, []float64{6, 4}, got, "rank %d", r)
	}
}

func TestGatherOrdersByRank(t *testing.T) {
	size := 3
	results := runAll(t, size, func(c Communicator) (interface{}, error) {
		shard := []core.Particle{
			{Params: []float64{float64(c.Rank())}},
			{Params: []float64{float64(c.Rank()) + 0.5}},
		}
		return c.Gather(context.Background(), shard)
	})

	root := results[0].([]core.Particle)
	require.Len(t, root, 6)
	want := []float64{0, 0.5, 1, 1.5, 2, 2.5}
	for i, p := range root {
		assert.Equal(t, want[i], p.Params[0])
	}

	// Non-root members receive nothing.
	assert.Nil(t, results[1])
	assert.Nil(t, results[2])
}

func TestScatterShards(t *testing.T) {
	size := 3
	// 7 particles over 3 workers: shards of 3, 2, 2.
	population := make([]core.Particle, 7)
	for i := range population {
		population[i] = core.Particle{Params: []float64{float64(i)}}
	}

	results := runAll(t, size, func(c Communicator) (interface{}, error) {
		var input []core.Particle
		if c.Rank() == 0 {
			input = population
		}
		return c.Scatter(context.Background(), input)
	})

	shard0 := results[0].([]core.Particle)
	shard1 := results[1].([]core.Particle)
	shard2 := results[2].([]core.Particle)
	require.Len(t, shard0, 3)
	require.Len(t, shard1, 2)
	require.Len(t, shard2, 2)

	assert.Equal(t, 0.0, shard0[0].Params[0])
	assert.Equal(t, 3.0, shard1[0].Params[0])
	assert.Equal(t, 5.0, shard2[0].Params[0])
}

func TestGatherScatterRoundTrip(t *testing.T) {
	size := 4
	results := runAll(t, size, func(c Communicator) (interface{}, error) {
		ctx := context.Background()
		shard := []core.Particle{
			{Params: []float64{float64(c.Rank() * 10)}},
			{Params: []float64{float64(c.Rank()*10 + 1)}},
		}
		all, err := c.Gather(ctx, shard)
		if err != nil {
			return nil, err
		}
		return c.Scatter(ctx, all)
	})

	for r := 0; r < size; r++ {
		shard := results[r].([]core.Particle)
		require.Len(t, shard, 2, "rank %d", r)
		assert.Equal(t, float64(r*10), shard[0].Params[0])
		assert.Equal(t, float64(r*10+1), shard[1].Params[0])
	}
}

func TestBroadcast(t *testing.T) {
	size := 3
	results := runAll(t, size, func(c Communicator) (interface{}, error) {
		var vals []float64
		if c.Rank() == 0 {
			vals = []float64{3.14, 2.71}
		}
		return c.Broadcast(context.Background(), vals)
	})

	for r := 0; r < size; r++ {
		assert.Equal(t, []float64{3.14, 2.71}, results[r].([]float64), "rank %d", r)
	}
}

func TestSingleMemberGroup(t *testing.T) {
	c := Single()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())

	ctx := context.Background()

	sum, err := c.AllReduceSum(ctx, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, sum)

	shard := []core.Particle{{Params: []float64{1}}}
	all, err := c.Gather(ctx, shard)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	back, err := c.Scatter(ctx, all)
	require.NoError(t, err)
	assert.Len(t, back, 1)
}

func TestCancellationSurfacesCommFailure(t *testing.T) {
	group, err := NewGroup(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Rank 1 waits on a broadcast that never arrives; cancellation must
	// unblock it with a CommFailure error.
	done := make(chan error, 1)
	go func() {
		_, err := group[1].Broadcast(ctx, nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.CommFailure, errors.CodeOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("canceled collective did not return")
	}
}

func TestShardSizes(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{10, 2, []int{5, 5}},
		{7, 3, []int{3, 2, 2}},
		{3, 4, []int{1, 1, 1, 0}},
		{5, 1, []int{5}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ShardSizes(tt.n, tt.size))
	}
}

func TestNewGroupValidation(t *testing.T) {
	_, err := NewGroup(0)
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}
