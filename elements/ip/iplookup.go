// File: elements/ip/iplookup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Offloadable IPv4 longest-prefix-match element. The two-level table is
// built once, replicated into the node-local storage of every NUMA node and
// copied to each device the first time a batch is offloaded to it.

package ip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/ipv4route"
	"github.com/momentics/hioload-accel/kernels"
	"github.com/momentics/hioload-accel/pool"
	"github.com/sirupsen/logrus"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "ip")

// Node-local storage names.
const (
	TBL24Name   = "TBL24"
	TBLlongName = "TBLlong"
)

// Workgroup sizes by device family.
const (
	GPUWorkgroupSize     = 512
	KnappWorkgroupSize   = 256
	DefaultWorkgroupSize = 256
)

// DeviceKey names the node-local descriptor of table on dev.
func DeviceKey(table string, dev api.ComputeDevice) string {
	return fmt.Sprintf("%s_dev_memobj:%s/%d", table, dev.Type(), dev.ID())
}

// IPLookupConfig configures an IPLookup element.
type IPLookupConfig struct {
	// Routes is used when non-nil; otherwise RIBPath is loaded.
	Routes  []ipv4route.Route
	RIBPath string
	// NumTxPorts bounds the round-robin output interface annotation.
	NumTxPorts int
	// Storage receives the per-node table replicas.
	Storage *pool.NodeLocalRegistry
}

// IPLookup annotates packets with their next hop and output interface and
// kills packets without a route.
type IPLookup struct {
	handlers element.HandlerSet
	table    *ipv4route.Table
	storage  *pool.NodeLocalRegistry
	txPorts  uint32
	rr       atomic.Uint32
	routes   int

	mu       sync.Mutex
	prepared map[int]bool
}

// NewIPLookup builds the routing table and registers the GPU and knapp
// handlers. CPU devices use Process.
func NewIPLookup(cfg IPLookupConfig) (*IPLookup, error) {
	routes := cfg.Routes
	if routes == nil {
		if cfg.RIBPath == "" {
			return nil, fmt.Errorf("%w: IPLookup needs routes or a RIB path", api.ErrInvalidArgument)
		}
		var err error
		if routes, err = ipv4route.LoadRIB(cfg.RIBPath); err != nil {
			return nil, err
		}
	}
	tbl, err := ipv4route.Build(routes)
	if err != nil {
		return nil, err
	}
	storage := cfg.Storage
	if storage == nil {
		storage = pool.NewNodeLocalRegistry(1, nil)
	}
	e := &IPLookup{
		table:    tbl,
		storage:  storage,
		txPorts:  uint32(cfg.NumTxPorts),
		routes:   len(routes),
		prepared: make(map[int]bool),
	}
	for _, t := range []api.DeviceType{api.DeviceGPU, api.DeviceKnapp} {
		if err := e.handlers.Register(t, e.initDevice, e.compute); err != nil {
			return nil, err
		}
	}
	log.WithFields(logrus.Fields{
		"routes":        len(routes),
		"long_entries":  len(tbl.TBLlong),
		logfields.Path: cfg.RIBPath,
	}).Info("IPv4 routing table built")
	return e, nil
}

func (e *IPLookup) Name() string { return "IPLookup" }

// Table returns the host copy of the routing table.
func (e *IPLookup) Table() *ipv4route.Table { return e.table }

func (e *IPLookup) Handlers() *element.HandlerSet { return &e.handlers }

func (e *IPLookup) DesiredWorkgroupSize(t api.DeviceType) int {
	switch t {
	case api.DeviceGPU:
		return GPUWorkgroupSize
	case api.DeviceKnapp:
		return KnappWorkgroupSize
	default:
		return DefaultWorkgroupSize
	}
}

func (e *IPLookup) Datablock() element.Datablock {
	return element.Datablock{InputSize: kernels.IPv4AddrSize, OutputSize: kernels.NextHopSize}
}

// Process routes one packet on the CPU.
func (e *IPLookup) Process(port int, p *element.Packet, out element.Output) {
	addr, err := dstAddr(p.Data())
	if err != nil {
		p.Kill()
		return
	}
	e.route(e.table.Lookup(addr), p, out)
}

// Preproc writes the destination address record.
func (e *IPLookup) Preproc(_ int, p *element.Packet, rec []byte) {
	addr, err := dstAddr(p.Data())
	if err != nil {
		p.Kill()
		addr = 0
	}
	binary.LittleEndian.PutUint32(rec, addr)
}

// Postproc consumes the next-hop record.
func (e *IPLookup) Postproc(_ int, result []byte, p *element.Packet, out element.Output) {
	e.route(binary.LittleEndian.Uint16(result), p, out)
}

func (e *IPLookup) route(nh uint16, p *element.Packet, out element.Output) {
	if nh == ipv4route.Miss {
		p.Kill()
		return
	}
	p.SetAnno(element.AnnoIPv4NextHop, uint64(nh))
	if e.txPorts > 0 {
		p.SetAnno(element.AnnoIfaceOut, uint64(e.rr.Add(1)%e.txPorts))
	}
	out.Push(0, p)
}

// Prepare replicates the encoded tables into the storage of node. Other
// IPLookup instances sharing the storage reuse an existing replica.
func (e *IPLookup) Prepare(node int) error {
	_, _, err := e.nodeTables(e.storage.Node(node))
	return err
}

func (e *IPLookup) nodeTables(st *pool.NodeLocalStorage) ([]byte, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tbl24, err := e.replica(st, TBL24Name, e.table.TBL24)
	if err != nil {
		return nil, nil, err
	}
	tbllong, err := e.replica(st, TBLlongName, e.table.TBLlong)
	if err != nil {
		return nil, nil, err
	}
	if !e.prepared[st.Node()] {
		e.prepared[st.Node()] = true
		log.WithField(logfields.NUMANode, st.Node()).Debug("Routing table replicated")
	}
	return tbl24, tbllong, nil
}

// replica returns the node copy of tbl, encoding it on first use. An empty
// table still gets one group so every device buffer is non-empty.
func (e *IPLookup) replica(st *pool.NodeLocalStorage, name string, tbl []uint16) ([]byte, error) {
	if mem, ok := st.GetAlloc(name); ok {
		return mem, nil
	}
	n := len(tbl)
	if n == 0 {
		n = ipv4route.GroupSize
	}
	mem, err := st.Alloc(name, ipv4route.EncodedSize(n))
	if errors.Is(err, api.ErrAlreadyExists) {
		mem, _ = st.GetAlloc(name)
		return mem, nil
	}
	if err != nil {
		return nil, err
	}
	mem = mem[:ipv4route.EncodedSize(n)]
	ipv4route.Encode(mem, tbl)
	for i := len(tbl); i < n; i++ {
		binary.LittleEndian.PutUint16(mem[2*i:], ipv4route.Miss)
	}
	return mem, nil
}

// initDevice copies the node replica of both tables into device memory and
// stores the device buffers in node-local storage.
func (e *IPLookup) initDevice(dev api.ComputeDevice) error {
	st := e.storage.Node(dev.NUMANode())
	tbl24, tbllong, err := e.nodeTables(st)
	if err != nil {
		return err
	}
	for _, t := range []struct {
		name string
		data []byte
	}{{TBL24Name, tbl24}, {TBLlongName, tbllong}} {
		d, err := upload(dev, t.data)
		if err != nil {
			return fmt.Errorf("%s to %s/%d: %w", t.name, dev.Type(), dev.ID(), err)
		}
		if err := st.Store(DeviceKey(t.name, dev), d); err != nil {
			return err
		}
	}
	log.WithFields(logrus.Fields{
		logfields.DeviceType: dev.Type().String(),
		logfields.DeviceID:   dev.ID(),
		logfields.Size:       len(tbl24) + len(tbllong),
	}).Info("Routing table copied to device")
	return nil
}

func upload(dev api.ComputeDevice, data []byte) (api.DeviceBuffer, error) {
	h, err := dev.AllocHostBuffer(len(data), api.MemFlagsNone)
	if err != nil {
		return api.DeviceBuffer{}, err
	}
	hb, err := dev.UnwrapHostBuffer(h)
	if err != nil {
		return api.DeviceBuffer{}, err
	}
	copy(hb, data)
	d, err := dev.AllocDeviceBuffer(len(data), api.MemReadOnly, h)
	if err != nil {
		return api.DeviceBuffer{}, err
	}
	if err := dev.Memwrite(h, d, 0, len(data)); err != nil {
		return api.DeviceBuffer{}, err
	}
	return d, nil
}

func (e *IPLookup) devicePtr(st *pool.NodeLocalStorage, name string, dev api.ComputeDevice) (api.DevicePtr, error) {
	v, ok := st.Load(DeviceKey(name, dev))
	if !ok {
		return api.NullDevicePtr, fmt.Errorf("%w: %s not on %s/%d", api.ErrNotFound, name, dev.Type(), dev.ID())
	}
	return dev.UnwrapDeviceBuffer(v.(api.DeviceBuffer))
}

// compute pushes the table pointers and launches the lookup kernel.
func (e *IPLookup) compute(dev api.ComputeDevice, ctx api.ComputeContext, res *api.ResourceParam) error {
	st := e.storage.Node(dev.NUMANode())
	for _, name := range []string{TBL24Name, TBLlongName} {
		p, err := e.devicePtr(st, name, dev)
		if err != nil {
			return err
		}
		if err := ctx.PushKernelArg(api.PtrArg(p)); err != nil {
			return err
		}
	}
	return ctx.EnqueueKernelLaunch(kernels.Builtin(kernels.IDIPv4Lookup), res)
}

// Routes returns the number of routes in the table.
func (e *IPLookup) Routes() int { return e.routes }
