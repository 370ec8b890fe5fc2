// File: api/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Compute device and compute context contracts.

package api

import "context"

// ComputeDevice is one accelerator instance (or the CPU fallback).
type ComputeDevice interface {
	Type() DeviceType
	ID() int
	NUMANode() int

	// NewContext builds a context with its own execution queue and io bases.
	NewContext(ctxID int) (ComputeContext, error)

	AllocHostBuffer(size int, flags int) (HostBuffer, error)
	AllocDeviceBuffer(size int, flags int, host HostBuffer) (DeviceBuffer, error)
	// Memwrite and Memread are synchronous device-level transfers used at
	// initialization time.
	Memwrite(h HostBuffer, d DeviceBuffer, offset, size int) error
	Memread(h HostBuffer, d DeviceBuffer, offset, size int) error

	UnwrapHostBuffer(h HostBuffer) ([]byte, error)
	UnwrapDeviceBuffer(d DeviceBuffer) (DevicePtr, error)

	Close() error
}

// Buffer allocation flags.
const (
	MemFlagsNone = 0
	MemReadOnly  = 1 << 0
	MemWriteOnly = 1 << 1
)

// EventCallback is invoked once after every operation enqueued before it
// on the same context has retired.
type EventCallback func(ctx ComputeContext, userArg any)

// ComputeContext is an execution queue on a device. It is owned by a single
// worker; only completions run on other goroutines.
type ComputeContext interface {
	ID() int
	Type() DeviceType
	State() ContextState

	AllocIoBase() IoBase
	AllocInputBuffer(base IoBase, size int) (HostBuffer, DeviceBuffer, error)
	AllocOutputBuffer(base IoBase, size int) (HostBuffer, DeviceBuffer, error)
	MapInputBuffer(base IoBase, offset, length int) (HostBuffer, DeviceBuffer, error)
	MapOutputBuffer(base IoBase, offset, length int) (HostBuffer, DeviceBuffer, error)
	InputSize(base IoBase) int
	OutputSize(base IoBase) int
	ClearIoBuffers(base IoBase) error

	UnwrapHostBuffer(h HostBuffer) ([]byte, error)
	UnwrapDeviceBuffer(d DeviceBuffer) (DevicePtr, error)

	EnqueueMemwriteOp(h HostBuffer, d DeviceBuffer, offset, size int) error
	EnqueueMemreadOp(h HostBuffer, d DeviceBuffer, offset, size int) error

	ClearKernelArgs()
	PushKernelArg(arg KernelArg) error
	EnqueueKernelLaunch(kernel KernelHandle, res *ResourceParam) error
	EnqueueEventCallback(fn EventCallback, userArg any) error

	// Query reports whether every enqueued operation has retired.
	Query() bool
	// Sync blocks until the queue drains or ctx is done.
	Sync(ctx context.Context) error
	// Err returns the first device-side failure; a faulted context rejects
	// further work.
	Err() error

	Close() error
}
