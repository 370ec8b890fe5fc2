// File: knapp/wire/messages.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"fmt"

	"github.com/momentics/hioload-accel/api"
)

// Channel selects the role of a connection.
type Channel uint8

const (
	ChannelCtrl Channel = 1
	ChannelData Channel = 2
)

func (c Channel) String() string {
	switch c {
	case ChannelCtrl:
		return "ctrl"
	case ChannelData:
		return "data"
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// Attach opens a connection. VDev 0 names the master control channel.
type Attach struct {
	Channel Channel `msgpack:"ch"`
	VDev    uint64  `msgpack:"vd"`
}

// AttachReply accepts or rejects an Attach.
type AttachReply struct {
	Reply Reply  `msgpack:"r"`
	Error string `msgpack:"e,omitempty"`
}

// RequestType is a control request kind.
type RequestType uint8

const (
	RequestPing        RequestType = 0
	RequestMalloc      RequestType = 1
	RequestFree        RequestType = 2
	RequestCreateVDev  RequestType = 3
	RequestDestroyVDev RequestType = 4
)

func (t RequestType) String() string {
	switch t {
	case RequestPing:
		return "PING"
	case RequestMalloc:
		return "MALLOC"
	case RequestFree:
		return "FREE"
	case RequestCreateVDev:
		return "CREATE_VDEV"
	case RequestDestroyVDev:
		return "DESTROY_VDEV"
	}
	return fmt.Sprintf("REQUEST(%d)", uint8(t))
}

// Reply is a control response code.
type Reply uint8

const (
	// ReplySuccess means the request was carried out.
	ReplySuccess Reply = 0
	// ReplyFailure means a well-formed request could not be satisfied.
	ReplyFailure Reply = 1
	// ReplyInvalid means the request was malformed.
	ReplyInvalid Reply = 2
)

func (r Reply) String() string {
	switch r {
	case ReplySuccess:
		return "SUCCESS"
	case ReplyFailure:
		return "FAILURE"
	case ReplyInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("REPLY(%d)", uint8(r))
}

// TextParam carries PING text.
type TextParam struct {
	Msg string `msgpack:"msg"`
}

// MallocParam sizes a MALLOC.
type MallocParam struct {
	Size  uint64 `msgpack:"size"`
	Align uint64 `msgpack:"align"`
}

// ResourceParam names a remote resource.
type ResourceParam struct {
	Handle uint64 `msgpack:"handle"`
}

// VDevInfoParam shapes a virtual device.
type VDevInfoParam struct {
	NumPCores         uint32 `msgpack:"pcores"`
	NumLCoresPerPCore uint32 `msgpack:"lcores"`
	PipelineDepth     uint32 `msgpack:"depth"`
}

// CtrlRequest is one control request. Only the parameter of Type is set.
type CtrlRequest struct {
	Type     RequestType    `msgpack:"t"`
	Text     *TextParam     `msgpack:"text,omitempty"`
	Malloc   *MallocParam   `msgpack:"malloc,omitempty"`
	Resource *ResourceParam `msgpack:"res,omitempty"`
	VDevInfo *VDevInfoParam `msgpack:"vdev,omitempty"`
}

// CtrlResponse answers a CtrlRequest.
type CtrlResponse struct {
	Reply    Reply          `msgpack:"r"`
	Text     *TextParam     `msgpack:"text,omitempty"`
	Resource *ResourceParam `msgpack:"res,omitempty"`
	Error    string         `msgpack:"e,omitempty"`
}

// Err converts a non-success reply to an error wrapping api.ErrRemoteReply.
func (r *CtrlResponse) Err(req RequestType) error {
	if r.Reply == ReplySuccess {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%w: %s %s: %s", api.ErrRemoteReply, req, r.Reply, r.Error)
	}
	return fmt.Errorf("%w: %s %s", api.ErrRemoteReply, req, r.Reply)
}

// Ping builds a PING request.
func Ping(text string) *CtrlRequest {
	return &CtrlRequest{Type: RequestPing, Text: &TextParam{Msg: text}}
}

// Malloc builds a MALLOC request.
func Malloc(size, align uint64) *CtrlRequest {
	return &CtrlRequest{Type: RequestMalloc, Malloc: &MallocParam{Size: size, Align: align}}
}

// Free builds a FREE request.
func Free(handle uint64) *CtrlRequest {
	return &CtrlRequest{Type: RequestFree, Resource: &ResourceParam{Handle: handle}}
}

// CreateVDev builds a CREATE_VDEV request.
func CreateVDev(pcores, lcores, depth uint32) *CtrlRequest {
	return &CtrlRequest{Type: RequestCreateVDev, VDevInfo: &VDevInfoParam{
		NumPCores:         pcores,
		NumLCoresPerPCore: lcores,
		PipelineDepth:     depth,
	}}
}

// DestroyVDev builds a DESTROY_VDEV request.
func DestroyVDev(handle uint64) *CtrlRequest {
	return &CtrlRequest{Type: RequestDestroyVDev, Resource: &ResourceParam{Handle: handle}}
}

// FrameKind tags a DataFrame.
type FrameKind uint8

const (
	// FrameRMAWrite copies Data to remote Addr (host to remote) or into
	// host window Window at Offset (remote to host).
	FrameRMAWrite FrameKind = 1
	// FrameRMARead asks the remote to copy Size bytes at Addr into host
	// window Copy and to signal Slot.
	FrameRMARead FrameKind = 2
	// FrameTask runs Task and signals Slot.
	FrameTask FrameKind = 3
	// FrameFence is acknowledged with FrameFenceAck once every earlier
	// frame has been applied.
	FrameFence    FrameKind = 4
	FrameFenceAck FrameKind = 5
	// FramePoll stores State into poll-ring Slot.
	FramePoll FrameKind = 6
)

func (k FrameKind) String() string {
	switch k {
	case FrameRMAWrite:
		return "RMA_WRITE"
	case FrameRMARead:
		return "RMA_READ"
	case FrameTask:
		return "TASK"
	case FrameFence:
		return "FENCE"
	case FrameFenceAck:
		return "FENCE_ACK"
	case FramePoll:
		return "POLL"
	}
	return fmt.Sprintf("FRAME(%d)", uint8(k))
}

// TaskResource is the launch geometry of a task.
type TaskResource struct {
	NumWorkItems           uint32 `msgpack:"items"`
	NumWorkgroups          uint32 `msgpack:"groups"`
	NumThreadsPerWorkgroup uint32 `msgpack:"threads"`
}

// TaskItem is one kernel launch on a virtual device.
type TaskItem struct {
	TaskID        uint32       `msgpack:"id"`
	KernelID      int32        `msgpack:"kernel"`
	NumItems      uint32       `msgpack:"items"`
	NumKernelArgs uint32       `msgpack:"nargs"`
	Args          [][]byte     `msgpack:"args"`
	Res           TaskResource `msgpack:"res"`
}

// KernelArgs rebuilds the argument list of t.
func (t *TaskItem) KernelArgs() ([]api.KernelArg, error) {
	if int(t.NumKernelArgs) != len(t.Args) || len(t.Args) > MaxKernelArgs {
		return nil, fmt.Errorf("%w: task %d carries %d of %d arguments", api.ErrInvalidArgument, t.TaskID, len(t.Args), t.NumKernelArgs)
	}
	out := make([]api.KernelArg, len(t.Args))
	for i, a := range t.Args {
		out[i] = api.KernelArg{Data: a, Size: len(a)}
	}
	return out, nil
}

// Resource returns the launch geometry as an api.ResourceParam.
func (t *TaskItem) Resource() api.ResourceParam {
	return api.ResourceParam{
		NumWorkItems:           t.Res.NumWorkItems,
		NumWorkgroups:          t.Res.NumWorkgroups,
		NumThreadsPerWorkgroup: t.Res.NumThreadsPerWorkgroup,
	}
}

// NewTaskItem packs a launch.
func NewTaskItem(id uint32, kernel int32, args []api.KernelArg, res api.ResourceParam) *TaskItem {
	t := &TaskItem{
		TaskID:        id,
		KernelID:      kernel,
		NumItems:      uint32(res.Normalize()),
		NumKernelArgs: uint32(len(args)),
		Args:          make([][]byte, len(args)),
		Res: TaskResource{
			NumWorkItems:           res.NumWorkItems,
			NumWorkgroups:          res.NumWorkgroups,
			NumThreadsPerWorkgroup: res.NumThreadsPerWorkgroup,
		},
	}
	for i, a := range args {
		t.Args[i] = a.Data
	}
	return t
}

// D2HCopy is the host destination of an RMA read.
type D2HCopy struct {
	BufferID uint32 `msgpack:"buf"`
	Offset   uint64 `msgpack:"off"`
	Size     uint32 `msgpack:"size"`
}

// DataFrame is one message on a data channel.
type DataFrame struct {
	Kind   FrameKind `msgpack:"k"`
	Addr   uint64    `msgpack:"a,omitempty"`
	Window uint32    `msgpack:"w,omitempty"`
	Offset uint64    `msgpack:"o,omitempty"`
	Data   []byte    `msgpack:"d,omitempty"`
	Slot   uint32    `msgpack:"s,omitempty"`
	Seq    uint64    `msgpack:"q,omitempty"`
	State  uint64    `msgpack:"st,omitempty"`
	Copy   *D2HCopy  `msgpack:"c,omitempty"`
	Task   *TaskItem `msgpack:"t,omitempty"`
	Error  string    `msgpack:"e,omitempty"`
}
