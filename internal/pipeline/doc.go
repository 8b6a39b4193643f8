// Package pipeline plans and runs incremental, test-gated builds.
//
// A build request carries a dependency manifest, a scope, and a set of
// stages. The planner arranges the stages into a DAG — dependency
// stages feed application stages, application stages feed the test
// stage, and assembly only ever runs behind a passed test gate — then
// executes it with the graph executor.
//
// Dependency stages are cacheable: their result is keyed by the
// fingerprint of the manifest within the scope, so a warm build skips
// the expensive dependency work entirely and reuses the published
// layer. Application stages always execute, because application content
// changes on every build. The test stage is a first-class node of the
// graph, not a side job: its failure halts everything downstream, while
// its report is written to a side channel either way.
//
// Example usage:
//
//	planner := pipeline.New(store, executor)
//
//	plan, err := planner.Plan(pipeline.Request{
//	    Manifest: m,
//	    Scope:    "main",
//	    Stages:   stages,
//	    Output:   "dist",
//	})
//	if err != nil {
//	    return err
//	}
//
//	result, err := planner.Run(ctx, plan)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Runtime.Ref)
package pipeline
