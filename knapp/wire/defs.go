// File: knapp/wire/defs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared coprocessor constants.

package wire

const (
	// MasterPort is the default control port of the runtime.
	MasterPort = 3000
	// HostDataPortBase and HostCtrlPortBase are the default local port
	// bases of per-context connections; the context ID is added.
	HostDataPortBase = 2000
	HostCtrlPortBase = 2100

	// NumCores is the number of physical cores of the coprocessor.
	NumCores = 60
	// MaxThreadsPerCore is the number of hardware threads per core.
	MaxThreadsPerCore = 4
	// MaxPipelineDepth bounds the poll ring of one virtual device.
	MaxPipelineDepth = 32

	// MaxPollRings and MaxRMABuffers bound per-vdev registrations.
	MaxPollRings  = 8
	MaxRMABuffers = 8

	// MaxKernelArgs bounds TaskItem.Args.
	MaxKernelArgs = 16

	// DefaultAlign is the allocation alignment requested for io arenas.
	DefaultAlign = 64
)

// RMA resource identifiers of one io base. A host window ID is
// base*RMAStride + resource.
const (
	RMAInput  = 0
	RMAKernel = 1
	RMAOutput = 2

	RMAStride = 4
)

// WindowID returns the host window of resource res in io base b.
func WindowID(b int, res int) uint32 { return uint32(b*RMAStride + res) }

// PCoreToLCore maps a physical core and hardware thread to the runtime's
// logical core number. Logical core 0 is left to the runtime itself.
func PCoreToLCore(pcore, ht int) int {
	return (pcore*MaxThreadsPerCore + ht + 1) % (NumCores * MaxThreadsPerCore)
}
