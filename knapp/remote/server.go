// File: knapp/remote/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package remote is the coprocessor runtime. It serves the control protocol
// on one listener, keeps device memory in a pool.MemSpace and runs tasks of
// every virtual device on the device's own goroutine.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/kernels"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/momentics/hioload-accel/pool"
	"github.com/sirupsen/logrus"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "knapp-remote")

// AttachTimeout bounds the wait for the opening frame of a connection.
const AttachTimeout = 10 * time.Second

// Config shapes a runtime.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string
	// Kernels resolves TASK kernel IDs; nil selects kernels.Default.
	Kernels *kernels.Table
	// MemLimit caps allocated bytes; zero means unlimited.
	MemLimit int64
	// NumCores is the number of physical cores handed to vdevs.
	NumCores int
}

// DefaultConfig listens on the loopback master port.
func DefaultConfig() Config {
	return Config{
		Addr:     fmt.Sprintf("127.0.0.1:%d", wire.MasterPort),
		NumCores: wire.NumCores,
	}
}

// Server is one emulated coprocessor.
type Server struct {
	cfg     Config
	mem     *pool.MemSpace
	kernels *kernels.Table

	mu     sync.Mutex
	ln     net.Listener
	vdevs  map[uint64]*vdev
	nextID uint64
	cores  []bool
	conns  map[*wire.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewServer creates a runtime; call Listen and Serve to start it.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.Kernels == nil {
		cfg.Kernels = kernels.Default
	}
	if cfg.NumCores <= 0 || cfg.NumCores > wire.NumCores {
		cfg.NumCores = wire.NumCores
	}
	return &Server{
		cfg:     cfg,
		mem:     pool.NewMemSpace(),
		kernels: cfg.Kernels,
		vdevs:   make(map[uint64]*vdev),
		cores:   make([]bool, cfg.NumCores),
		conns:   make(map[*wire.Conn]struct{}),
	}
}

// Memory exposes device memory.
func (s *Server) Memory() *pool.MemSpace { return s.mem }

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.WithField(logfields.Addr, ln.Addr().String()).Info("Coprocessor runtime listening")
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%w: server is not listening", api.ErrInvalidArgument)
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		c := wire.NewConn(nc)
		if !s.track(c) {
			c.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			s.handleConn(c)
		}()
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close stops accepting, drops every connection and destroys all vdevs.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	vdevs := s.vdevs
	s.vdevs = make(map[uint64]*vdev)
	s.mu.Unlock()
	for _, v := range vdevs {
		v.close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) track(c *wire.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *wire.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) handleConn(c *wire.Conn) {
	l := log.WithField(logfields.Addr, c.RemoteAddr().String())
	var at wire.Attach
	c.SetDeadline(time.Now().Add(AttachTimeout))
	if err := c.Recv(&at); err != nil {
		l.WithError(err).Debug("Connection closed before attach")
		return
	}
	c.SetDeadline(time.Time{})
	l = l.WithFields(logrus.Fields{logfields.VDev: at.VDev, "channel": at.Channel.String()})

	switch at.Channel {
	case wire.ChannelCtrl:
		if at.VDev != 0 && s.vdev(at.VDev) == nil {
			c.Send(&wire.AttachReply{Reply: wire.ReplyFailure, Error: "unknown vdev"})
			return
		}
		if err := c.Send(&wire.AttachReply{Reply: wire.ReplySuccess}); err != nil {
			return
		}
		s.serveCtrl(c, l)
	case wire.ChannelData:
		v := s.vdev(at.VDev)
		if v == nil {
			c.Send(&wire.AttachReply{Reply: wire.ReplyFailure, Error: "unknown vdev"})
			return
		}
		if !v.attach(c) {
			c.Send(&wire.AttachReply{Reply: wire.ReplyFailure, Error: "data channel already attached"})
			return
		}
		if err := c.Send(&wire.AttachReply{Reply: wire.ReplySuccess}); err != nil {
			return
		}
		v.serveData(c)
	default:
		c.Send(&wire.AttachReply{Reply: wire.ReplyInvalid, Error: "unknown channel"})
	}
}

func (s *Server) serveCtrl(c *wire.Conn, l *logrus.Entry) {
	for {
		var req wire.CtrlRequest
		err := c.Recv(&req)
		var resp *wire.CtrlResponse
		switch {
		case err == nil:
			resp = s.Handle(&req)
		case errors.Is(err, wire.ErrMalformed):
			resp = &wire.CtrlResponse{Reply: wire.ReplyInvalid, Error: err.Error()}
		default:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.WithError(err).Debug("Control channel closed")
			}
			return
		}
		l.WithFields(logrus.Fields{
			logfields.Request: req.Type.String(),
			logfields.Reply:   resp.Reply.String(),
		}).Debug("Control request served")
		if err := c.Send(resp); err != nil {
			return
		}
	}
}

func (s *Server) vdev(id uint64) *vdev {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vdevs[id]
}

func invalid(msg string) *wire.CtrlResponse {
	return &wire.CtrlResponse{Reply: wire.ReplyInvalid, Error: msg}
}

func failure(err error) *wire.CtrlResponse {
	return &wire.CtrlResponse{Reply: wire.ReplyFailure, Error: err.Error()}
}

// Handle serves one control request. Malformed requests get INVALID,
// requests that cannot be satisfied get FAILURE.
func (s *Server) Handle(req *wire.CtrlRequest) *wire.CtrlResponse {
	switch req.Type {
	case wire.RequestPing:
		if req.Text == nil {
			return invalid("ping without text")
		}
		return &wire.CtrlResponse{Reply: wire.ReplySuccess, Text: &wire.TextParam{Msg: req.Text.Msg}}

	case wire.RequestMalloc:
		m := req.Malloc
		if m == nil || m.Size == 0 {
			return invalid("malloc without size")
		}
		align := m.Align
		if align == 0 {
			align = wire.DefaultAlign
		}
		if align&(align-1) != 0 {
			return invalid(fmt.Sprintf("alignment %d is not a power of two", align))
		}
		if m.Size > api.MaxRegionSize {
			return failure(fmt.Errorf("%w: %d bytes", api.ErrResourceExhausted, m.Size))
		}
		if s.cfg.MemLimit > 0 {
			if _, used := s.mem.Stats(); used+int64(m.Size) > s.cfg.MemLimit {
				return failure(fmt.Errorf("%w: %d of %d bytes in use", api.ErrResourceExhausted, used, s.cfg.MemLimit))
			}
		}
		p, err := s.mem.Alloc(int(m.Size), int(align))
		if err != nil {
			return failure(err)
		}
		return &wire.CtrlResponse{Reply: wire.ReplySuccess, Resource: &wire.ResourceParam{Handle: uint64(p)}}

	case wire.RequestFree:
		if req.Resource == nil {
			return invalid("free without handle")
		}
		p := api.DevicePtr(req.Resource.Handle)
		if p.Offset() != 0 {
			return failure(fmt.Errorf("%w: %s is not an allocation start", api.ErrBadDevicePtr, p))
		}
		if _, err := s.mem.Unregister(p); err != nil {
			return failure(err)
		}
		return &wire.CtrlResponse{Reply: wire.ReplySuccess}

	case wire.RequestCreateVDev:
		info := req.VDevInfo
		if info == nil {
			return invalid("create_vdev without vdev info")
		}
		if info.NumPCores < 1 || int(info.NumPCores) > s.cfg.NumCores ||
			info.NumLCoresPerPCore < 1 || info.NumLCoresPerPCore > wire.MaxThreadsPerCore ||
			info.PipelineDepth < 1 || info.PipelineDepth > wire.MaxPipelineDepth {
			return invalid(fmt.Sprintf("vdev shape %d/%d/%d out of range", info.NumPCores, info.NumLCoresPerPCore, info.PipelineDepth))
		}
		v, err := s.createVDev(*info)
		if err != nil {
			return failure(err)
		}
		return &wire.CtrlResponse{Reply: wire.ReplySuccess, Resource: &wire.ResourceParam{Handle: v.id}}

	case wire.RequestDestroyVDev:
		if req.Resource == nil {
			return invalid("destroy_vdev without handle")
		}
		if err := s.destroyVDev(req.Resource.Handle); err != nil {
			return failure(err)
		}
		return &wire.CtrlResponse{Reply: wire.ReplySuccess}
	}
	return invalid(fmt.Sprintf("unknown request %s", req.Type))
}

func (s *Server) createVDev(info wire.VDevInfoParam) (*vdev, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, api.ErrClosed
	}
	var pcores []int
	for i, busy := range s.cores {
		if !busy {
			pcores = append(pcores, i)
			if len(pcores) == int(info.NumPCores) {
				break
			}
		}
	}
	if len(pcores) < int(info.NumPCores) {
		return nil, fmt.Errorf("%w: %d free cores, %d requested", api.ErrResourceExhausted, len(pcores), info.NumPCores)
	}
	for _, p := range pcores {
		s.cores[p] = true
	}
	s.nextID++
	v := newVDev(s, s.nextID, info, pcores)
	s.vdevs[v.id] = v
	return v, nil
}

func (s *Server) destroyVDev(id uint64) error {
	s.mu.Lock()
	v, ok := s.vdevs[id]
	if ok {
		delete(s.vdevs, id)
		for _, p := range v.pcores {
			s.cores[p] = false
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: vdev %d", api.ErrNotFound, id)
	}
	v.close()
	return nil
}

// VDevs returns the number of live virtual devices.
func (s *Server) VDevs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vdevs)
}
