// File: knapp/wire/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package wire defines the messages exchanged between the host and the
// many-core coprocessor runtime and their framing.
//
// Every frame is a 4-byte little-endian body length followed by a msgpack
// body. A connection opens with an Attach frame naming its channel; the
// runtime answers with an AttachReply. Control channels then carry
// CtrlRequest/CtrlResponse pairs. Data channels carry DataFrame values in
// both directions: host writes, reads and task pushes one way, host-window
// writes, poll-ring updates and fence acknowledgements the other.
package wire
