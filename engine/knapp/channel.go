// File: engine/knapp/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package knapp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/sirupsen/logrus"
)

// dataChannel is the host end of a vdev data connection. Outbound frames
// are written by the owner; one receiver goroutine applies remote writes to
// registered host windows and stores poll-ring updates.
type dataChannel struct {
	conn *wire.Conn
	ring *PollRing
	log  *logrus.Entry

	wmu     sync.RWMutex
	windows map[uint32][]byte

	fmu    sync.Mutex
	seq    uint64
	fences map[uint64]chan string

	fault atomic.Pointer[error]
	done  chan struct{}
}

func newDataChannel(conn *wire.Conn, ring *PollRing, l *logrus.Entry) *dataChannel {
	c := &dataChannel{
		conn:    conn,
		ring:    ring,
		log:     l,
		windows: make(map[uint32][]byte),
		fences:  make(map[uint64]chan string),
		done:    make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// RegisterWindow exposes mem to remote writes under id.
func (c *dataChannel) RegisterWindow(id uint32, mem []byte) {
	c.wmu.Lock()
	c.windows[id] = mem
	c.wmu.Unlock()
}

// UnregisterWindow withdraws id.
func (c *dataChannel) UnregisterWindow(id uint32) {
	c.wmu.Lock()
	delete(c.windows, id)
	c.wmu.Unlock()
}

func (c *dataChannel) setFault(err error) {
	if c.fault.CompareAndSwap(nil, &err) {
		c.ring.Abort(err)
	}
}

// Err returns the channel failure, if any.
func (c *dataChannel) Err() error {
	if p := c.fault.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *dataChannel) recvLoop() {
	defer close(c.done)
	for {
		var f wire.DataFrame
		if err := c.conn.Recv(&f); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.WithError(err).Warn("Data channel lost")
			}
			c.setFault(fmt.Errorf("%w: data channel: %v", api.ErrDeviceFaulted, err))
			c.failFences()
			return
		}
		switch f.Kind {
		case wire.FrameRMAWrite:
			c.wmu.RLock()
			win, ok := c.windows[f.Window]
			if ok && f.Offset+uint64(len(f.Data)) <= uint64(len(win)) {
				copy(win[f.Offset:], f.Data)
			}
			c.wmu.RUnlock()
			if !ok {
				c.log.WithField("window", f.Window).Warn("Remote write to unknown host window")
			}
		case wire.FramePoll:
			if err := c.ring.Update(f.Slot, api.PollRingState(f.State), f.Error); err != nil {
				c.log.WithError(err).Warn("Bad poll ring update")
			}
		case wire.FrameFenceAck:
			c.fmu.Lock()
			ch, ok := c.fences[f.Seq]
			delete(c.fences, f.Seq)
			c.fmu.Unlock()
			if ok {
				ch <- f.Error
			}
		default:
			c.log.WithField("frame", f.Kind.String()).Warn("Unexpected frame from coprocessor")
		}
	}
}

func (c *dataChannel) failFences() {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	for seq, ch := range c.fences {
		ch <- "data channel closed"
		delete(c.fences, seq)
	}
}

func (c *dataChannel) send(f *wire.DataFrame) error {
	if err := c.Err(); err != nil {
		return err
	}
	if err := c.conn.Send(f); err != nil {
		c.setFault(fmt.Errorf("%w: data channel: %v", api.ErrDeviceFaulted, err))
		return c.Err()
	}
	return nil
}

// Write copies data to remote address dst. Completion is implied by the
// ordering of later frames.
func (c *dataChannel) Write(dst api.DevicePtr, data []byte) error {
	return c.send(&wire.DataFrame{Kind: wire.FrameRMAWrite, Addr: uint64(dst), Data: data})
}

// Read copies size bytes at src into host window at offset and waits for
// the poll-ring slot to complete.
func (c *dataChannel) Read(src api.DevicePtr, size int, window uint32, offset int, timeout time.Duration) error {
	slot, err := c.ring.Arm()
	if err != nil {
		return err
	}
	err = c.send(&wire.DataFrame{
		Kind: wire.FrameRMARead,
		Addr: uint64(src),
		Slot: slot,
		Copy: &wire.D2HCopy{BufferID: window, Offset: uint64(offset), Size: uint32(size)},
	})
	if err != nil {
		c.ring.Release(slot)
		return err
	}
	return c.ring.Wait(slot, timeout)
}

// Task pushes a launch and waits for its poll-ring slot.
func (c *dataChannel) Task(t *wire.TaskItem, timeout time.Duration) error {
	slot, err := c.ring.Arm()
	if err != nil {
		return err
	}
	if err := c.send(&wire.DataFrame{Kind: wire.FrameTask, Slot: slot, Task: t}); err != nil {
		c.ring.Release(slot)
		return err
	}
	return c.ring.Wait(slot, timeout)
}

// Fence waits until every earlier frame has been applied remotely.
func (c *dataChannel) Fence(timeout time.Duration) error {
	ch := make(chan string, 1)
	c.fmu.Lock()
	c.seq++
	seq := c.seq
	c.fences[seq] = ch
	c.fmu.Unlock()
	if err := c.send(&wire.DataFrame{Kind: wire.FrameFence, Seq: seq}); err != nil {
		c.fmu.Lock()
		delete(c.fences, seq)
		c.fmu.Unlock()
		return err
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case msg := <-ch:
		if msg != "" {
			return fmt.Errorf("%w: %s", api.ErrDeviceFaulted, msg)
		}
		return nil
	case <-expired:
		c.fmu.Lock()
		delete(c.fences, seq)
		c.fmu.Unlock()
		return fmt.Errorf("%w: fence %d after %s", api.ErrOperationTimeout, seq, timeout)
	}
}

// Close drops the connection and waits for the receiver to exit.
func (c *dataChannel) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
