// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-platform CPU and NUMA affinity management with runtime detection.

package concurrency

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int {
	return runtime.NumCPU()
}

// NUMANodes returns the number of NUMA nodes, at least 1.
func NUMANodes() int {
	n := platformNUMANodes()
	if n < 1 {
		return 1
	}
	return n
}

// NodeCPUs returns the logical CPUs attached to a NUMA node.
func NodeCPUs(node int) []int {
	cpus := platformNodeCPUs(node)
	if len(cpus) == 0 && node == 0 {
		for i := 0; i < runtime.NumCPU(); i++ {
			cpus = append(cpus, i)
		}
	}
	return cpus
}

// PreferredCPUID returns the n-th CPU of a NUMA node, wrapping around.
func PreferredCPUID(numaNode, n int) int {
	cpus := NodeCPUs(numaNode)
	if len(cpus) == 0 {
		return n % runtime.NumCPU()
	}
	return cpus[n%len(cpus)]
}

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpuID. The goroutine stays locked even if binding fails.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	return platformPinCurrentThread(cpuID)
}

// UnpinCurrentThread clears the affinity set by PinCurrentThread.
func UnpinCurrentThread() error {
	defer runtime.UnlockOSThread()
	return platformUnpinCurrentThread()
}

// ParseCPUList parses the kernel list format ("0-3,8,10-11").
func ParseCPUList(s string) ([]int, error) {
	var out []int
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("cpu list %q: %w", s, err)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("cpu list %q: %w", s, err)
			}
		}
		if b < a {
			return nil, fmt.Errorf("cpu list %q: descending range", s)
		}
		for i := a; i <= b; i++ {
			out = append(out, i)
		}
	}
	return out, nil
}
