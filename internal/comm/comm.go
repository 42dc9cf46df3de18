// Package comm provides the rank communicator the topology manager and the
// execution engine are built on: an MPI-shaped interface (barrier,
// broadcast, gather, scatter, point-to-point) with an in-process
// implementation that runs every rank as a goroutine in one address space.
// The single address space is what stands in for the node-shared memory
// window of a production MPI deployment; the interface keeps the engine
// ignorant of that choice.
//
// All blocking operations take a context and abort when it is done. A
// failed or abandoned collective is fatal to the run: the swept rule's
// lock-step design has no defined behavior for a missing participant, so
// there is no retry path anywhere in this package.
package comm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Communicator connects one rank to its group. Collective calls must be
// entered by every rank of the group, in the same order.
type Communicator interface {
	// Rank is this process's index within the group, 0 <= Rank < Size.
	Rank() int
	// Size is the number of ranks in the group.
	Size() int
	// Barrier blocks until every rank of the group has arrived.
	Barrier(ctx context.Context) error
	// Send delivers v to rank to. Messages between a fixed pair of ranks
	// arrive in send order.
	Send(ctx context.Context, to int, v any) error
	// Recv blocks for the next message from rank from.
	Recv(ctx context.Context, from int) (any, error)
	// Bcast distributes root's value to every rank and returns it.
	Bcast(ctx context.Context, root int, v any) (any, error)
	// Gather collects every rank's value at root, ordered by rank. Non-root
	// ranks receive nil.
	Gather(ctx context.Context, root int, v any) ([]any, error)
	// AllGather collects every rank's value at every rank, ordered by rank.
	AllGather(ctx context.Context, v any) ([]any, error)
	// Scatter hands vs[i] to rank i. Only root's vs is consulted.
	Scatter(ctx context.Context, root int, vs []any) (any, error)
	// Incl derives a subgroup communicator from the listed parent ranks.
	// Every listed rank must call Incl with the identical list; ranks not
	// listed get a nil communicator and must not take part in the
	// subgroup's collectives. The returned communicator renumbers ranks by
	// position in the list.
	Incl(ranks []int) (Communicator, error)
}

// group is the shared state of one communicator group.
type group struct {
	size    int
	mailbox [][]chan any // indexed [to][from]
	bar     *barrier

	mu   sync.Mutex
	subs map[string]*group
}

// mailboxDepth bounds how far one rank can run ahead of a peer before its
// sends start blocking. Collectives enqueue at most one message per rank
// pair, so a small constant is enough.
const mailboxDepth = 8

func newGroup(size int) *group {
	mb := make([][]chan any, size)
	for to := range mb {
		mb[to] = make([]chan any, size)
		for from := range mb[to] {
			mb[to][from] = make(chan any, mailboxDepth)
		}
	}
	return &group{
		size: size,
		mailbox: mb,
		bar:  newBarrier(size),
		subs: make(map[string]*group),
	}
}

// NewWorld creates an in-process group of n ranks and returns one
// communicator per rank.
func NewWorld(n int) ([]Communicator, error) {
	if n <= 0 {
		return nil, fmt.Errorf("comm: world size must be positive, got %d", n)
	}
	g := newGroup(n)
	comms := make([]Communicator, n)
	for r := 0; r < n; r++ {
		comms[r] = &proc{g: g, rank: r}
	}
	return comms, nil
}

// Spawn runs fn once per rank, each in its own goroutine sharing a world of
// size n, and waits for all of them. The first non-nil error is returned;
// the shared context is not cancelled on error because the lock-step
// protocol leaves the caller responsible for deciding that the run is dead.
func Spawn(ctx context.Context, n int, fn func(ctx context.Context, c Communicator) error) error {
	comms, err := NewWorld(n)
	if err != nil {
		return err
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(ctx, comms[rank])
		}(r)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

type proc struct {
	g    *group
	rank int
}

func (p *proc) Rank() int { return p.rank }
func (p *proc) Size() int { return p.g.size }

func (p *proc) Barrier(ctx context.Context) error {
	return p.g.bar.await(ctx)
}

func (p *proc) Send(ctx context.Context, to int, v any) error {
	if to < 0 || to >= p.g.size {
		return fmt.Errorf("comm: send to rank %d outside group of size %d", to, p.g.size)
	}
	select {
	case p.g.mailbox[to][p.rank] <- v:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("comm: send from %d to %d: %w", p.rank, to, ctx.Err())
	}
}

func (p *proc) Recv(ctx context.Context, from int) (any, error) {
	if from < 0 || from >= p.g.size {
		return nil, fmt.Errorf("comm: recv from rank %d outside group of size %d", from, p.g.size)
	}
	select {
	case v := <-p.g.mailbox[p.rank][from]:
		return v, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("comm: recv at %d from %d: %w", p.rank, from, ctx.Err())
	}
}

func (p *proc) Bcast(ctx context.Context, root int, v any) (any, error) {
	if p.rank == root {
		for r := 0; r < p.g.size; r++ {
			if r == root {
				continue
			}
			if err := p.Send(ctx, r, v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
	return p.Recv(ctx, root)
}

func (p *proc) Gather(ctx context.Context, root int, v any) ([]any, error) {
	if p.rank != root {
		return nil, p.Send(ctx, root, v)
	}
	out := make([]any, p.g.size)
	out[root] = v
	for r := 0; r < p.g.size; r++ {
		if r == root {
			continue
		}
		got, err := p.Recv(ctx, r)
		if err != nil {
			return nil, err
		}
		out[r] = got
	}
	return out, nil
}

func (p *proc) AllGather(ctx context.Context, v any) ([]any, error) {
	out, err := p.Gather(ctx, 0, v)
	if err != nil {
		return nil, err
	}
	got, err := p.Bcast(ctx, 0, out)
	if err != nil {
		return nil, err
	}
	return got.([]any), nil
}

func (p *proc) Scatter(ctx context.Context, root int, vs []any) (any, error) {
	if p.rank == root {
		if len(vs) != p.g.size {
			return nil, fmt.Errorf("comm: scatter of %d values into group of size %d", len(vs), p.g.size)
		}
		for r := 0; r < p.g.size; r++ {
			if r == root {
				continue
			}
			if err := p.Send(ctx, r, vs[r]); err != nil {
				return nil, err
			}
		}
		return vs[root], nil
	}
	return p.Recv(ctx, root)
}

func (p *proc) Incl(ranks []int) (Communicator, error) {
	pos := -1
	for i, r := range ranks {
		if r < 0 || r >= p.g.size {
			return nil, fmt.Errorf("comm: subgroup rank %d outside group of size %d", r, p.g.size)
		}
		if r == p.rank {
			pos = i
		}
	}
	if pos < 0 {
		return nil, nil
	}
	sub := p.g.subgroup(ranks)
	return &proc{g: sub, rank: pos}, nil
}

// subgroup returns the shared group for a rank list, creating it on first
// use. The key is the exact list, so every member must pass it identically.
func (g *group) subgroup(ranks []int) *group {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := rankKey(ranks)
	if sub, ok := g.subs[key]; ok {
		return sub
	}
	sub := newGroup(len(ranks))
	g.subs[key] = sub
	return sub
}

func rankKey(ranks []int) string {
	var b strings.Builder
	for i, r := range ranks {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", r)
	}
	return b.String()
}

// SortedRanks returns a sorted copy of ranks; helper for callers that must
// agree on a canonical subgroup list.
func SortedRanks(ranks []int) []int {
	out := append([]int(nil), ranks...)
	sort.Ints(out)
	return out
}
