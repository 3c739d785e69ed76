// Package comm provides the synchronization primitives for data-parallel
// sampling: a fixed-size worker group exchanging explicit messages, with no
// shared mutable state between members. Every collective blocks until all
// members have arrived at it, which keeps the workers' stage state machines
// in lockstep.
package comm

import (
	"context"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// Communicator is one member's handle on the worker group. Rank 0 is the
// coordinating member for the rooted collectives.
type Communicator interface {
	// Rank returns this member's rank in [0, Size).
	Rank() int
	// Size returns the number of members in the group.
	Size() int
	// AllReduceSum sums the members' equally sized vectors elementwise and
	// returns the result to every member.
	AllReduceSum(ctx context.Context, vals []float64) ([]float64, error)
	// Gather concatenates the members' particle shards in rank order at
	// rank 0. Non-root members receive nil.
	Gather(ctx context.Context, particles []core.Particle) ([]core.Particle, error)
	// Scatter splits rank 0's population into contiguous shards and hands
	// each member its own. The remainder is spread over the lowest ranks.
	// Non-root members pass nil.
	Scatter(ctx context.Context, particles []core.Particle) ([]core.Particle, error)
	// Broadcast distributes rank 0's vector to every member. Non-root
	// members pass nil.
	Broadcast(ctx context.Context, vals []float64) ([]float64, error)
}

type message struct {
	rank      int
	floats    []float64
	particles []core.Particle
}

type member struct {
	rank     int
	size     int
	toRoot   chan message   // shared: members -> rank 0
	fromRoot []chan message // per rank: rank 0 -> member
}

// NewGroup creates an in-process worker group of the given size and returns
// one Communicator per rank. All members must participate in every
// collective, each from its own goroutine.
func NewGroup(size int) ([]Communicator, error) {
	if size < 1 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "group size must be at least 1"),
			errors.Fields{"size": size},
		)
	}

	toRoot := make(chan message, size)
	fromRoot := make([]chan message, size)
	for i := range fromRoot {
		fromRoot[i] = make(chan message, 1)
	}

	members := make([]Communicator, size)
	for r := 0; r < size; r++ {
		members[r] = &member{
			rank:     r,
			size:     size,
			toRoot:   toRoot,
			fromRoot: fromRoot,
		}
	}
	return members, nil
}

// Single returns a one-member group for serial runs.
func Single() Communicator {
	group, _ := NewGroup(1)
	return group[0]
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.size }

func (m *member) send(ctx context.Context, ch chan<- message, msg message) error {
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return commCanceled(ctx, m.rank)
	}
}

func (m *member) recv(ctx context.Context, ch <-chan message) (message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return message{}, commCanceled(ctx, m.rank)
	}
}

func commCanceled(ctx context.Context, rank int) error {
	return errors.WithFields(
		errors.Wrap(ctx.Err(), errors.CommFailure, "collective interrupted"),
		errors.Fields{"rank": rank},
	)
}

// collect receives one message from every non-root member, indexed by rank.
func (m *member) collect(ctx context.Context) ([]message, error) {
	msgs := make([]message, m.size)
	for i := 0; i < m.size-1; i++ {
		msg, err := m.recv(ctx, m.toRoot)
		if err != nil {
			return nil, err
		}
		msgs[msg.rank] = msg
	}
	return msgs, nil
}

func (m *member) AllReduceSum(ctx context.Context, vals []float64) ([]float64, error) {
	if m.rank != 0 {
		if err := m.send(ctx, m.toRoot, message{rank: m.rank, floats: vals}); err != nil {
			return nil, err
		}
		msg, err := m.recv(ctx, m.fromRoot[m.rank])
		if err != nil {
			return nil, err
		}
		return msg.floats, nil
	}

	msgs, err := m.collect(ctx)
	if err != nil {
		return nil, err
	}

	total := make([]float64, len(vals))
	copy(total, vals)
	for r := 1; r < m.size; r++ {
		contrib := msgs[r].floats
		if len(contrib) != len(total) {
			return nil, errors.WithFields(
				errors.New(errors.CommFailure, "all-reduce contribution length mismatch"),
				errors.Fields{"rank": r, "got": len(contrib), "want": len(total)},
			)
		}
		for i, v := range contrib {
			total[i] += v
		}
	}

	for r := 1; r < m.size; r++ {
		out := make([]float64, len(total))
		copy(out, total)
		if err := m.send(ctx, m.fromRoot[r], message{floats: out}); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (m *member) Gather(ctx context.Context, particles []core.Particle) ([]core.Particle, error) {
	if m.rank != 0 {
		return nil, m.send(ctx, m.toRoot, message{rank: m.rank, particles: particles})
	}

	msgs, err := m.collect(ctx)
	if err != nil {
		return nil, err
	}

	var all []core.Particle
	all = append(all, particles...)
	for r := 1; r < m.size; r++ {
		all = append(all, msgs[r].particles...)
	}
	return all, nil
}

func (m *member) Scatter(ctx context.Context, particles []core.Particle) ([]core.Particle, error) {
	if m.rank != 0 {
		msg, err := m.recv(ctx, m.fromRoot[m.rank])
		if err != nil {
			return nil, err
		}
		return msg.particles, nil
	}

	sizes := ShardSizes(len(particles), m.size)
	offset := sizes[0]
	for r := 1; r < m.size; r++ {
		shard := particles[offset : offset+sizes[r]]
		if err := m.send(ctx, m.fromRoot[r], message{particles: shard}); err != nil {
			return nil, err
		}
		offset += sizes[r]
	}
	return particles[:sizes[0]], nil
}

func (m *member) Broadcast(ctx context.Context, vals []float64) ([]float64, error) {
	if m.rank != 0 {
		msg, err := m.recv(ctx, m.fromRoot[m.rank])
		if err != nil {
			return nil, err
		}
		return msg.floats, nil
	}

	for r := 1; r < m.size; r++ {
		out := make([]float64, len(vals))
		copy(out, vals)
		if err := m.send(ctx, m.fromRoot[r], message{floats: out}); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

// ShardSizes splits n items over size workers: every worker gets n/size and
// the remainder goes to the lowest ranks, one extra each.
func ShardSizes(n, size int) []int {
	sizes := make([]int, size)
	base := n / size
	rem := n % size
	for r := range sizes {
		sizes[r] = base
		if r < rem {
			sizes[r]++
		}
	}
	return sizes
}
