//go:build linux

// File: internal/concurrency/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux affinity through sched_setaffinity and sysfs NUMA topology.

package concurrency

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const sysNodeDir = "/sys/devices/system/node"

func platformNUMANodes() int {
	b, err := os.ReadFile(sysNodeDir + "/online")
	if err != nil {
		return 1
	}
	nodes, err := ParseCPUList(string(b))
	if err != nil || len(nodes) == 0 {
		return 1
	}
	return nodes[len(nodes)-1] + 1
}

func platformNodeCPUs(node int) []int {
	b, err := os.ReadFile(fmt.Sprintf("%s/node%d/cpulist", sysNodeDir, node))
	if err != nil {
		return nil
	}
	cpus, err := ParseCPUList(string(b))
	if err != nil {
		return nil
	}
	return cpus
}

func platformPinCurrentThread(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

func platformUnpinCurrentThread() error {
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < runtime.NumCPU(); i++ {
		set.Set(i)
	}
	return unix.SchedSetaffinity(0, &set)
}
