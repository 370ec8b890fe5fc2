// File: engine/knapp/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package knapp

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/knapp/wire"
)

// Client is a control channel. Invoke blocks; it is used at setup and
// teardown only. A failed send or receive faults the client: the connection
// is closed and every later call fails with api.ErrClosed.
type Client struct {
	mu      sync.Mutex
	conn    *wire.Conn
	timeout time.Duration
	err     error
}

// Dial opens the control channel of vdev (0 for the master channel) from
// local port (0 for ephemeral).
func Dial(addr string, vdev uint64, port int, cfg control.KnappConfig) (*Client, error) {
	c, err := attach(addr, port, wire.ChannelCtrl, vdev, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c, timeout: cfg.RPCTimeout}, nil
}

// Invoke sends req and waits for the response.
func (c *Client) Invoke(req *wire.CtrlRequest) (*wire.CtrlResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, fmt.Errorf("%w: control channel failed: %v", api.ErrClosed, c.err)
	}
	start := time.Now()
	if c.timeout > 0 {
		c.conn.SetDeadline(start.Add(c.timeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := c.conn.Send(req); err != nil {
		return nil, c.fault(fmt.Errorf("send %s: %w", req.Type, err))
	}
	var resp wire.CtrlResponse
	if err := c.conn.Recv(&resp); err != nil {
		// A late reply would be read by the next call.
		return nil, c.fault(fmt.Errorf("recv %s: %w", req.Type, err))
	}
	control.CtrlLatency.WithLabelValues(req.Type.String()).Observe(time.Since(start).Seconds())
	control.CtrlRequests.WithLabelValues(req.Type.String(), resp.Reply.String()).Inc()
	return &resp, nil
}

func (c *Client) fault(err error) error {
	c.err = err
	c.conn.Close()
	return err
}

// Call is Invoke that turns non-success replies into errors.
func (c *Client) Call(req *wire.CtrlRequest) (*wire.CtrlResponse, error) {
	resp, err := c.Invoke(req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err(req.Type)
}

// Ping round-trips text.
func (c *Client) Ping(text string) (string, error) {
	resp, err := c.Call(wire.Ping(text))
	if err != nil {
		return "", err
	}
	if resp.Text == nil {
		return "", fmt.Errorf("%w: ping reply without text", api.ErrRemoteReply)
	}
	return resp.Text.Msg, nil
}

// Malloc allocates remote memory.
func (c *Client) Malloc(size, align int) (api.DevicePtr, error) {
	resp, err := c.Call(wire.Malloc(uint64(size), uint64(align)))
	if err != nil {
		return api.NullDevicePtr, err
	}
	if resp.Resource == nil {
		return api.NullDevicePtr, fmt.Errorf("%w: malloc reply without handle", api.ErrRemoteReply)
	}
	return api.DevicePtr(resp.Resource.Handle), nil
}

// Free releases remote memory.
func (c *Client) Free(p api.DevicePtr) error {
	_, err := c.Call(wire.Free(uint64(p)))
	return err
}

// CreateVDev carves a virtual device out of the coprocessor.
func (c *Client) CreateVDev(pcores, lcores, depth int) (uint64, error) {
	resp, err := c.Call(wire.CreateVDev(uint32(pcores), uint32(lcores), uint32(depth)))
	if err != nil {
		return 0, err
	}
	if resp.Resource == nil {
		return 0, fmt.Errorf("%w: create_vdev reply without handle", api.ErrRemoteReply)
	}
	return resp.Resource.Handle, nil
}

// DestroyVDev releases a virtual device.
func (c *Client) DestroyVDev(handle uint64) error {
	_, err := c.Call(wire.DestroyVDev(handle))
	return err
}

// Close closes the channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil
	}
	c.err = api.ErrClosed
	return c.conn.Close()
}
