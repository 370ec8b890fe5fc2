// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the offload engine: a bounded MPMC lock-free
// queue backing io-base free lists, adaptive poll backoff for completion
// pollers, and CPU/NUMA affinity helpers for pinned workers.
package concurrency
