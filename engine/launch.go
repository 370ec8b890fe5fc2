// File: engine/launch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import (
	"fmt"

	"github.com/momentics/hioload-accel/api"
	"golang.org/x/sync/errgroup"
)

// RunKernel executes fn once per workgroup of res with at most lanes
// workgroups in flight. It returns the first workgroup error.
func RunKernel(mem api.DeviceMemory, fn api.KernelFunc, args []api.KernelArg, res api.ResourceParam, lanes int) error {
	if fn == nil {
		return fmt.Errorf("%w: kernel has no body", api.ErrInvalidArgument)
	}
	groups := res.Workgroups()
	if lanes <= 1 || len(groups) <= 1 {
		for _, r := range groups {
			if err := fn(mem, args, r); err != nil {
				return fmt.Errorf("workgroup %d: %w", r.Group, err)
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(lanes)
	for _, r := range groups {
		r := r
		g.Go(func() error {
			if err := fn(mem, args, r); err != nil {
				return fmt.Errorf("workgroup %d: %w", r.Group, err)
			}
			return nil
		})
	}
	return g.Wait()
}
