// File: pool/nodelocal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-NUMA-node named storage. Elements replicate read-mostly data (routing
// tables, device memory descriptors) once per node and share it between the
// workers of that node.

package pool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/sirupsen/logrus"
)

// MaxNodeLocalEntries bounds the number of names per node.
const MaxNodeLocalEntries = 16

type nodeLocalEntry struct {
	mem   []byte
	value any
}

// NodeLocalStorage is the named storage of one NUMA node.
type NodeLocalStorage struct {
	node    int
	alloc   HostAllocator
	mu      sync.RWMutex
	entries map[string]*nodeLocalEntry
}

// NewNodeLocalStorage creates the storage of node.
func NewNodeLocalStorage(node int, alloc HostAllocator) *NodeLocalStorage {
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	return &NodeLocalStorage{
		node:    node,
		alloc:   alloc,
		entries: make(map[string]*nodeLocalEntry),
	}
}

// Node returns the NUMA node index.
func (s *NodeLocalStorage) Node() int { return s.node }

func (s *NodeLocalStorage) slot(name string) (*nodeLocalEntry, error) {
	if e, ok := s.entries[name]; ok {
		return e, nil
	}
	if len(s.entries) >= MaxNodeLocalEntries {
		return nil, fmt.Errorf("%w: node %d storage holds %d entries", api.ErrResourceExhausted, s.node, len(s.entries))
	}
	e := &nodeLocalEntry{}
	s.entries[name] = e
	return e, nil
}

// Alloc reserves a named region of size bytes on this node.
func (s *NodeLocalStorage) Alloc(name string, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok && e.mem != nil {
		return nil, fmt.Errorf("%w: %q on node %d", api.ErrAlreadyExists, name, s.node)
	}
	e, err := s.slot(name)
	if err != nil {
		return nil, err
	}
	mem, err := s.alloc.Alloc(size, s.node)
	if err != nil {
		if e.value == nil {
			delete(s.entries, name)
		}
		return nil, err
	}
	e.mem = mem
	log.WithFields(logrus.Fields{
		logfields.NUMANode: s.node,
		logfields.Size:     size,
	}).Debugf("Node-local region %q allocated", name)
	return mem, nil
}

// GetAlloc returns the region previously reserved under name.
func (s *NodeLocalStorage) GetAlloc(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok || e.mem == nil {
		return nil, false
	}
	return e.mem, true
}

// Store attaches an arbitrary value, typically a memory object descriptor.
func (s *NodeLocalStorage) Store(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.slot(name)
	if err != nil {
		return err
	}
	e.value = v
	return nil
}

// Load returns the value stored under name.
func (s *NodeLocalStorage) Load(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok || e.value == nil {
		return nil, false
	}
	return e.value, true
}

// Names returns the sorted entry names.
func (s *NodeLocalStorage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close frees every region.
func (s *NodeLocalStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, e := range s.entries {
		if e.mem != nil {
			if err := s.alloc.Free(e.mem); err != nil && first == nil {
				first = err
			}
		}
		delete(s.entries, name)
	}
	return first
}

// NodeLocalRegistry holds one storage per NUMA node.
type NodeLocalRegistry struct {
	nodes []*NodeLocalStorage
}

// NewNodeLocalRegistry creates storages for nodes [0, numNodes).
func NewNodeLocalRegistry(numNodes int, alloc HostAllocator) *NodeLocalRegistry {
	if numNodes < 1 {
		numNodes = 1
	}
	r := &NodeLocalRegistry{nodes: make([]*NodeLocalStorage, numNodes)}
	for i := range r.nodes {
		r.nodes[i] = NewNodeLocalStorage(i, alloc)
	}
	return r
}

// Node returns the storage of node, clamping unknown nodes to node 0.
func (r *NodeLocalRegistry) Node(node int) *NodeLocalStorage {
	if node < 0 || node >= len(r.nodes) {
		return r.nodes[0]
	}
	return r.nodes[node]
}

// NumNodes returns the number of storages.
func (r *NodeLocalRegistry) NumNodes() int { return len(r.nodes) }

// Close frees every node.
func (r *NodeLocalRegistry) Close() error {
	var first error
	for _, n := range r.nodes {
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
