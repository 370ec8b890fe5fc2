// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations and constants.

package api

import "fmt"

const (
	// MaxIoBases is the default number of rotating io-base slots per context.
	MaxIoBases = 8
	// DefaultIoBaseSize is the default capacity of every io-base arena.
	DefaultIoBaseSize = 16 << 20
	// DefaultArenaAlign is the default bump allocation alignment.
	DefaultArenaAlign = 8
	// DefaultPipelineDepth is the default number of in-flight tasks per virtual device.
	DefaultPipelineDepth = 32
)

// IoBase identifies one rotating slot of input and output arenas inside a
// compute context.
type IoBase int32

// InvalidIoBase is returned when all io bases are checked out.
const InvalidIoBase IoBase = -1

// Valid reports whether b can index an io-base slot.
func (b IoBase) Valid() bool { return b >= 0 }

// MemHandle locates an allocation inside an arena. Gen is the arena
// generation at the time of allocation.
type MemHandle struct {
	Arena  uint32
	Gen    uint32
	Offset int
	Size   int
}

// HostBuffer is a handle to host-resident memory.
type HostBuffer MemHandle

// DeviceBuffer is a handle to device-resident memory.
type DeviceBuffer MemHandle

func (h HostBuffer) String() string {
	return fmt.Sprintf("host{arena=%d gen=%d off=%d size=%d}", h.Arena, h.Gen, h.Offset, h.Size)
}

func (d DeviceBuffer) String() string {
	return fmt.Sprintf("dev{arena=%d gen=%d off=%d size=%d}", d.Arena, d.Gen, d.Offset, d.Size)
}

// DevicePtr is an address in a device address space.
// Layout: region (16 bits) | generation (16 bits) | offset (32 bits).
type DevicePtr uint64

const (
	devPtrOffsetBits = 32
	devPtrGenBits    = 16
	devPtrOffsetMask = 1<<devPtrOffsetBits - 1
	devPtrGenMask    = 1<<devPtrGenBits - 1

	// MaxRegionSize bounds a single device region.
	MaxRegionSize = 1 << devPtrOffsetBits
	// MaxRegionGen is the last generation a region index can carry. An
	// index that reaches it is retired instead of being reused, so a stale
	// pointer never resolves again.
	MaxRegionGen = devPtrGenMask
)

// NullDevicePtr is never a valid address.
const NullDevicePtr DevicePtr = 0

// MakeDevicePtr encodes a device address.
func MakeDevicePtr(region uint16, gen uint32, offset uint64) DevicePtr {
	return DevicePtr(uint64(region)<<(devPtrOffsetBits+devPtrGenBits) |
		uint64(gen&devPtrGenMask)<<devPtrOffsetBits |
		offset&devPtrOffsetMask)
}

// Region returns the region index of p.
func (p DevicePtr) Region() uint16 { return uint16(p >> (devPtrOffsetBits + devPtrGenBits)) }

// Gen returns the region generation of p.
func (p DevicePtr) Gen() uint32 { return uint32(p>>devPtrOffsetBits) & devPtrGenMask }

// Offset returns the byte offset of p inside its region.
func (p DevicePtr) Offset() uint64 { return uint64(p) & devPtrOffsetMask }

// Add returns p advanced by n bytes.
func (p DevicePtr) Add(n int) DevicePtr {
	return MakeDevicePtr(p.Region(), p.Gen(), p.Offset()+uint64(n))
}

func (p DevicePtr) String() string {
	return fmt.Sprintf("0x%016x", uint64(p))
}

// DeviceType is the closed set of compute backends.
type DeviceType uint8

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
	DeviceKnapp

	// NumDeviceTypes sizes registries indexed by DeviceType.
	NumDeviceTypes
)

func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "cuda"
	case DeviceKnapp:
		return "knapp.phi"
	default:
		return fmt.Sprintf("device(%d)", uint8(t))
	}
}

// Valid reports whether t names a known backend.
func (t DeviceType) Valid() bool { return t < NumDeviceTypes }

// ParseDeviceType maps a backend name to its DeviceType.
func ParseDeviceType(name string) (DeviceType, error) {
	switch name {
	case "cpu":
		return DeviceCPU, nil
	case "cuda", "gpu":
		return DeviceGPU, nil
	case "knapp.phi", "knapp", "phi":
		return DeviceKnapp, nil
	}
	return 0, fmt.Errorf("%w: unknown device type %q", ErrInvalidArgument, name)
}

// ContextState is the kernel-launch state of a compute context.
type ContextState int32

const (
	ContextIdle ContextState = iota
	ContextRunning
)

func (s ContextState) String() string {
	if s == ContextRunning {
		return "running"
	}
	return "idle"
}

// PollRingState is the value of a completion poll-ring slot.
type PollRingState uint64

const (
	// PollTaskReady marks a slot armed for a new task.
	PollTaskReady PollRingState = 0xcafebabe
	// PollOffloadComplete marks results readable and the slot recyclable.
	PollOffloadComplete PollRingState = 0xdeadbeef
	// PollCopyPending marks output data still being copied.
	PollCopyPending PollRingState = ^PollRingState(0)
)

func (s PollRingState) String() string {
	switch s {
	case PollTaskReady:
		return "TASK_READY"
	case PollOffloadComplete:
		return "OFFLOAD_COMPLETE"
	case PollCopyPending:
		return "COPY_PENDING"
	default:
		return fmt.Sprintf("POLL(0x%x)", uint64(s))
	}
}
