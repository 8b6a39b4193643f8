package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Default number of concurrent workers when none is configured.
const defaultWorkers = 4

// Runs a function for every node of a graph, respecting dependency order.
type Executor struct {
	workers int
}

// Creates an executor with the given worker count. Zero or negative
// selects the default.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Executor{workers: workers}
}

// Per-node execution state for a single run.
type runNode struct {
	id         string
	depCount   atomic.Int32
	dependents []*runNode
	err        error
	finished   atomic.Bool
	finishOnce sync.Once
}

// Records the node's final error and releases its slot in the wait group.
// Exactly one finish wins; later calls are no-ops.
func (n *runNode) finish(err error, wg *sync.WaitGroup) {
	n.finishOnce.Do(func() {
		n.err = err
		n.finished.Store(true)
		wg.Done()
	})
}

// Executes fn for every node, in dependency order, with independent
// nodes running concurrently.
//
// A node's fn is only invoked after all of its dependencies completed
// successfully. When fn fails, the run context is cancelled and every
// transitive dependent is marked with [ErrSkipped] instead of running.
// The returned map holds the per-node error (nil on success); the
// returned error is the first root-cause failure, or nil when every
// node succeeded. Cancellation of ctx stops dispatching new nodes.
func (e *Executor) Run(ctx context.Context, g *Graph, fn func(context.Context, string) error) (map[string]error, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodes := make(map[string]*runNode, g.Len())
	for _, id := range g.order {
		nodes[id] = &runNode{id: id}
	}
	for _, id := range g.order {
		n := nodes[id]
		n.depCount.Store(int32(len(g.nodes[id].deps)))
		for _, dep := range g.Dependents(id) {
			n.dependents = append(n.dependents, nodes[dep])
		}
	}

	// Each node is sent at most once (roots here, the rest when their
	// last dependency completes), so the buffer never fills and sends
	// never block.
	ready := make(chan *runNode, g.Len())
	for _, id := range g.order {
		if nodes[id].depCount.Load() == 0 {
			ready <- nodes[id]
		}
	}

	var wg sync.WaitGroup
	wg.Add(g.Len())

	done := make(chan struct{})
	for i := 0; i < e.workers; i++ {
		go e.worker(runCtx, ready, done, cancel, fn, &wg)
	}

	wg.Wait()
	close(done)

	results := make(map[string]error, g.Len())
	var rootCause error
	var failed []string
	for _, id := range g.order {
		n := nodes[id]
		results[id] = n.err
		if n.err == nil || errors.Is(n.err, ErrSkipped) || errors.Is(n.err, context.Canceled) {
			continue
		}
		failed = append(failed, id)
		if rootCause == nil {
			rootCause = n.err
		}
	}

	if rootCause != nil {
		return results, fmt.Errorf("%v: %w", failed, rootCause)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Processing loop for a single worker.
func (e *Executor) worker(ctx context.Context, ready chan *runNode, done <-chan struct{}, cancel context.CancelFunc, fn func(context.Context, string) error, wg *sync.WaitGroup) {
	for {
		var n *runNode
		select {
		case n = <-ready:
		case <-done:
			return
		}

		// A node can land on the ready channel after an upstream failure
		// already marked it skipped; never execute it in that case.
		if n.finished.Load() {
			continue
		}

		if ctx.Err() != nil {
			n.finish(ctx.Err(), wg)
			skipDependents(n, wg)
			continue
		}

		if err := fn(ctx, n.id); err != nil {
			slog.Debug("node failed", "node", n.id, "error", err)
			cancel()
			n.finish(err, wg)
			skipDependents(n, wg)
			continue
		}

		n.finish(nil, wg)

		for _, dep := range n.dependents {
			if dep.depCount.Add(-1) == 0 {
				ready <- dep
			}
		}
	}
}

// Recursively marks every transitive dependent of a failed node as skipped.
func skipDependents(n *runNode, wg *sync.WaitGroup) {
	for _, dep := range n.dependents {
		var first bool
		dep.finishOnce.Do(func() {
			dep.err = fmt.Errorf("%w: %q failed", ErrSkipped, n.id)
			dep.finished.Store(true)
			wg.Done()
			first = true
		})
		if first {
			skipDependents(dep, wg)
		}
	}
}
