// File: offload/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package offload drives batches of packets through offloadable elements on
// a compute device, with the CPU Process path as fallback.
package offload
