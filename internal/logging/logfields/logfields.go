// File: internal/logging/logfields/logfields.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package logfields defines common logging fields which are used across packages.
package logfields

const (
	// LogSubsys is the field denoting the subsystem when logging
	LogSubsys = "subsys"

	// DeviceType is the backend name of a compute device
	DeviceType = "deviceType"

	// DeviceID is the index of a compute device
	DeviceID = "deviceID"

	// ContextID is the index of a compute context
	ContextID = "contextID"

	// IoBase is an io-base slot index
	IoBase = "ioBase"

	// NUMANode is a NUMA node index
	NUMANode = "numaNode"

	// VDev is a remote virtual device handle
	VDev = "vdev"

	// Slot is a poll ring slot
	Slot = "slot"

	// TaskID is a remote task sequence number
	TaskID = "taskID"

	// Kernel is a kernel name or id
	Kernel = "kernel"

	// Request is a control request type
	Request = "request"

	// Reply is a control reply code
	Reply = "reply"

	// Addr is a network address
	Addr = "addr"

	// Attempt is a retry counter
	Attempt = "attempt"

	// Element is an element name
	Element = "element"

	// Size is a byte count
	Size = "size"

	// Path is a filesystem path
	Path = "path"

	// WorkerID is a worker index
	WorkerID = "workerID"
)
