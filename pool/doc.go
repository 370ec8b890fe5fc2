// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Memory layer of the offload engine. Provides bump arenas with generation
// checked handles, rotating io-base slots backed by a lock-free free list,
// generation checked device address spaces, pinned NUMA-local host memory
// and per-node named storage.
// See arena.go, iobase.go, memspace.go and nodelocal.go.
package pool
