// File: element/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package element defines packets, the element contract and the offloadable
// extension through which an element registers per-device handlers.
package element
