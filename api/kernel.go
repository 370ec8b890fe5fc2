// File: api/kernel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel invocation contracts shared by every backend.

package api

import (
	"encoding/binary"
	"fmt"
)

// MaxKernelArgs bounds the argument list of one kernel launch.
const MaxKernelArgs = 16

// KernelArg is one opaque kernel argument.
type KernelArg struct {
	Data  []byte
	Size  int
	Align int
}

// PtrArg wraps a device pointer as a kernel argument.
func PtrArg(p DevicePtr) KernelArg {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(p))
	return KernelArg{Data: b, Size: 8, Align: 8}
}

// Uint32Arg wraps a scalar as a kernel argument.
func Uint32Arg(v uint32) KernelArg {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return KernelArg{Data: b, Size: 4, Align: 4}
}

// Ptr decodes a pointer argument.
func (a KernelArg) Ptr() (DevicePtr, error) {
	if len(a.Data) < 8 {
		return NullDevicePtr, fmt.Errorf("%w: pointer argument has %d bytes", ErrInvalidArgument, len(a.Data))
	}
	return DevicePtr(binary.LittleEndian.Uint64(a.Data)), nil
}

// Uint32 decodes a 32-bit scalar argument.
func (a KernelArg) Uint32() (uint32, error) {
	if len(a.Data) < 4 {
		return 0, fmt.Errorf("%w: scalar argument has %d bytes", ErrInvalidArgument, len(a.Data))
	}
	return binary.LittleEndian.Uint32(a.Data), nil
}

// ResourceParam sizes a kernel launch.
type ResourceParam struct {
	NumWorkItems           uint32
	NumWorkgroups          uint32
	NumThreadsPerWorkgroup uint32
}

// Normalize fixes a zero workgroup count to one and returns the item count
// the launch covers.
func (r *ResourceParam) Normalize() int {
	if r.NumWorkgroups == 0 {
		r.NumWorkgroups = 1
	}
	if r.NumThreadsPerWorkgroup == 0 {
		r.NumThreadsPerWorkgroup = 1
	}
	if r.NumWorkItems != 0 {
		return int(r.NumWorkItems)
	}
	return int(r.NumWorkgroups * r.NumThreadsPerWorkgroup)
}

// Workgroups splits the launch into per-workgroup item ranges.
func (r ResourceParam) Workgroups() []WorkRange {
	items := r.Normalize()
	per := int(r.NumThreadsPerWorkgroup)
	out := make([]WorkRange, 0, r.NumWorkgroups)
	for g := 0; g < int(r.NumWorkgroups); g++ {
		begin := g * per
		if begin >= items {
			break
		}
		end := begin + per
		if end > items || g == int(r.NumWorkgroups)-1 {
			end = items
		}
		out = append(out, WorkRange{Begin: begin, End: end, Group: g})
	}
	return out
}

// WorkRange is the slice of work items handled by one workgroup.
type WorkRange struct {
	Begin int
	End   int
	Group int
}

// Len returns the number of items in r.
func (r WorkRange) Len() int { return r.End - r.Begin }

// DeviceMemory resolves device pointers while a kernel runs.
type DeviceMemory interface {
	Resolve(ptr DevicePtr, size int) ([]byte, error)
}

// KernelFunc is the body of a kernel. It is called once per workgroup and may
// be called concurrently for distinct ranges of the same launch.
type KernelFunc func(mem DeviceMemory, args []KernelArg, r WorkRange) error

// KernelHandle identifies a kernel. Local backends call Func; the remote
// coprocessor looks ID up in its kernel table.
type KernelHandle struct {
	Name string
	Func KernelFunc
	ID   int32
}
