// File: engine/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package engine is the backend-neutral half of the offload engine: the
// kernel argument stager, the in-order execution stream, the compute
// context state machine and the device backend registry. Backends under
// engine/cpu, engine/gpu and engine/knapp plug in a ContextBackend and
// register a Factory for their api.DeviceType.
package engine
