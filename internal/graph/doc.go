// Package graph provides the stage dependency DAG and its concurrent
// executor.
//
// A [Graph] holds named nodes and directed dependency edges. It can
// validate itself for cycles and produce a topological order. The
// [Executor] runs a function per node with a bounded worker pool:
// nodes with no outstanding dependencies are dispatched immediately,
// independent nodes run in parallel, and a node failure cancels the
// run and marks every transitive dependent as skipped. Execution never
// observes a dependent before all of its dependencies have completed.
package graph
