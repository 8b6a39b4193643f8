package pipeline

import (
	"fmt"

	"github.com/stratabuild/stratad/internal/fingerprint"
	"github.com/stratabuild/stratad/internal/graph"
	"github.com/stratabuild/stratad/internal/manifest"
)

// A build request: everything the planner needs for one invocation.
type Request struct {
	Manifest manifest.Manifest // Declared dependencies, hashed into the cache key.
	Scope    string            // Cache namespace, e.g. the branch name.
	Stages   []Stage           // Stage definitions forming the build DAG.
	Output   string            // Directory for the runtime artifact and stage outputs.

	// Forces dependency stages to re-execute even when a cached layer
	// exists, e.g. to verify a build is reproducible or to restore a
	// cache whose blobs were collected externally. A forced rebuild
	// publishes to the same key, so it must produce the same bytes;
	// refreshing content that has drifted needs a new Epoch instead.
	Invalidate bool

	// Rotates the cache keyspace for dependency stages. The epoch is
	// folded into every stage key, so bumping it gives inputs the
	// manifest cannot capture (floating branch references in externally
	// sourced dependencies) a fresh key to publish under, without
	// overwriting entries from earlier epochs.
	Epoch string

	// Identifier for this build, used to name the test report. Derived
	// from the fingerprint and start time when empty.
	BuildID string

	// Directory for test reports. Defaults to the daemon state dir.
	ReportDir string
}

// A validated, ordered execution plan.
type Plan struct {
	Request     Request
	Fingerprint fingerprint.Fingerprint // Cache key of the dependency stages.
	Order       []string                // Stage names in topological order.

	graph  *graph.Graph
	stages map[string]Stage
}

// Returns the stage definition by name.
func (p *Plan) Stage(name string) Stage {
	return p.stages[name]
}

// Returns the cache key for a cacheable stage.
//
// The stage name is folded into the key so two dependency stages of the
// same build can never collide on the build fingerprint, and the request
// epoch (when set) rotates the keyspace so a forced refresh publishes
// under a fresh key instead of conflicting with an existing entry.
func (p *Plan) StageKey(name string) fingerprint.Fingerprint {
	if p.Request.Epoch != "" {
		return p.Fingerprint.Derive(name, p.Request.Epoch)
	}
	return p.Fingerprint.Derive(name)
}

// Validates a request and arranges its stages into an execution plan.
//
// The stage DAG combines explicit Needs edges with the implicit kind
// ordering: every application stage runs after all dependency stages,
// every test stage after all application stages, and every assembly
// stage after all test stages. Planning fails on unknown or duplicate
// stage names, on copy-sets referencing undeclared stages, and on
// cycles ([graph.ErrCycleDetected]). The manifest fingerprint is
// computed here, once per build, and is immutable for the plan's
// lifetime.
func (p *Planner) Plan(req Request) (*Plan, error) {
	if len(req.Stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidRequest)
	}

	fp, err := fingerprint.New(req.Manifest, req.Scope)
	if err != nil {
		return nil, err
	}

	stages := make(map[string]Stage, len(req.Stages))
	for _, s := range req.Stages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: stage with empty name", ErrInvalidRequest)
		}
		if _, ok := stages[s.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidRequest, s.Name)
		}
		switch s.Kind {
		case KindDependency, KindApplication, KindTest, KindAssembly:
		default:
			return nil, fmt.Errorf("%w: stage %q has unknown kind %q", ErrInvalidRequest, s.Name, s.Kind)
		}
		stages[s.Name] = s
	}

	g := graph.New()
	for _, s := range req.Stages {
		g.AddNode(s.Name)
	}

	for _, s := range req.Stages {
		for _, need := range s.Needs {
			if _, ok := stages[need]; !ok {
				return nil, fmt.Errorf("%w: stage %q needs unknown stage %q", ErrInvalidRequest, s.Name, need)
			}
			if err := g.AddEdge(need, s.Name); err != nil {
				return nil, err
			}
		}
		for _, c := range s.CopySet {
			if _, ok := stages[c.From]; !ok {
				return nil, fmt.Errorf("%w: stage %q copies from unknown stage %q", ErrInvalidRequest, s.Name, c.From)
			}
		}
	}

	// An assembly stage can only run behind a passed test gate, so a
	// plan that assembles without testing could never succeed. Reject
	// it here instead of at the gate.
	kinds := make(map[Kind]bool, len(req.Stages))
	for _, s := range req.Stages {
		kinds[s.Kind] = true
	}
	if kinds[KindAssembly] && !kinds[KindTest] {
		return nil, fmt.Errorf("%w: assembly stage declared without a test stage", ErrInvalidRequest)
	}

	if err := addKindEdges(g, req.Stages); err != nil {
		return nil, err
	}

	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	return &Plan{
		Request:     req,
		Fingerprint: fp,
		Order:       order,
		graph:       g,
		stages:      stages,
	}, nil
}

// Rank of each kind in the implicit stage ordering.
var kindRank = map[Kind]int{
	KindDependency:  0,
	KindApplication: 1,
	KindTest:        2,
	KindAssembly:    3,
}

// Adds the implicit ordering edges between consecutive kind ranks.
//
// Each stage gains an edge from every stage of the closest earlier rank
// that is present in the request. This is what makes gate-before-
// assembly a structural property of the graph rather than a timing
// accident.
func addKindEdges(g *graph.Graph, stages []Stage) error {
	byRank := make(map[int][]string)
	for _, s := range stages {
		r := kindRank[s.Kind]
		byRank[r] = append(byRank[r], s.Name)
	}

	for _, s := range stages {
		rank := kindRank[s.Kind]
		for prev := rank - 1; prev >= 0; prev-- {
			upstream, ok := byRank[prev]
			if !ok {
				continue
			}
			for _, from := range upstream {
				if err := g.AddEdge(from, s.Name); err != nil {
					return err
				}
			}
			break
		}
	}
	return nil
}
