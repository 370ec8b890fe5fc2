//go:build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Affinity fallback: a single node and no thread binding.

package concurrency

func platformNUMANodes() int { return 1 }

func platformNodeCPUs(node int) []int { return nil }

func platformPinCurrentThread(cpuID int) error { return nil }

func platformUnpinCurrentThread() error { return nil }
