// Package runtime executes build stages in containers managed by containerd.
//
// [Runtime] wraps the containerd client. [Executor] implements the stage
// execution contract used by the build planner: each stage runs in a fresh
// container started from its base image archive, with upstream artifacts
// extracted into the root filesystem before the stage's commands execute.
// The stage's own filesystem changes are committed as a snapshot diff and
// exported as an uncompressed tar layer.
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "stratad")
//	if err != nil {
//		...
//	}
//	defer rt.Close()
//
//	exec := runtime.NewExecutor(rt)
//	planner := pipeline.New(store, exec)
//
// The fuse-overlayfs snapshotter is used so the daemon can run without root
// privileges.
package runtime
