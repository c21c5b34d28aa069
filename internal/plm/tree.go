package plm

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTree returns the transitive closure of rootPid over the OS
// parent-child relation, root included first.
func ProcessTree(ctx context.Context, rootPid uint32) ([]uint32, error) {
	exists, err := process.PidExistsWithContext(ctx, int32(rootPid))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &ProcessNotFoundError{Pid: rootPid}
	}

	tree := []uint32{rootPid}
	queue := []int32{int32(rootPid)}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			tree = append(tree, uint32(c.Pid))
			queue = append(queue, c.Pid)
		}
	}
	return tree, nil
}

// KillTree kills every process in rootPid's subtree, children before the
// root. A failure killing an individual child is recorded but does not stop
// the traversal; the root is attempted last regardless of earlier failures.
func KillTree(ctx context.Context, rootPid uint32, timeoutSecs int, force bool) ([]uint32, error) {
	tree, err := ProcessTree(ctx, rootPid)
	if err != nil {
		return nil, err
	}

	var killed []uint32
	var failed []uint32

	// children first: walk the tree in reverse discovery order, root last.
	for i := len(tree) - 1; i >= 0; i-- {
		pid := tree[i]
		if err := GracefulKill(ctx, pid, timeoutSecs, force); err != nil {
			failed = append(failed, pid)
			continue
		}
		killed = append(killed, pid)
	}

	if len(failed) > 0 {
		return killed, &BatchFailedError{Failed: failed}
	}
	return killed, nil
}
