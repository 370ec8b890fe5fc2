// File: engine/knapp/dial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package knapp

import (
	"fmt"
	"net"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/sirupsen/logrus"
)

// localPort returns base+ctxID, or 0 (ephemeral) when base is unset.
func localPort(base, ctxID int) int {
	if base <= 0 {
		return 0
	}
	return base + ctxID
}

// dialRetry connects to addr from localPort, retrying up to cfg.ConnRetry
// times.
func dialRetry(addr string, port int, cfg control.KnappConfig) (net.Conn, error) {
	d := net.Dialer{Timeout: cfg.RPCTimeout, Control: reuseAddr}
	if port > 0 {
		d.LocalAddr = &net.TCPAddr{Port: port}
	}
	retries := cfg.ConnRetry
	if retries < 1 {
		retries = 1
	}
	var last error
	for attempt := 1; attempt <= retries; attempt++ {
		nc, err := d.Dial("tcp", addr)
		if err == nil {
			return nc, nil
		}
		last = err
		log.WithFields(logrus.Fields{
			logfields.Addr:    addr,
			logfields.Attempt: attempt,
		}).WithError(err).Warn("Connect to coprocessor failed")
		if attempt < retries {
			time.Sleep(cfg.RetryInterval)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", api.ErrConnectRetry, addr, retries, last)
}

// attach dials addr and opens channel ch of vdev.
func attach(addr string, port int, ch wire.Channel, vdev uint64, cfg control.KnappConfig) (*wire.Conn, error) {
	nc, err := dialRetry(addr, port, cfg)
	if err != nil {
		return nil, err
	}
	c := wire.NewConn(nc)
	if cfg.RPCTimeout > 0 {
		c.SetDeadline(time.Now().Add(cfg.RPCTimeout))
	}
	var rep wire.AttachReply
	if err = c.Send(&wire.Attach{Channel: ch, VDev: vdev}); err == nil {
		err = c.Recv(&rep)
	}
	if err == nil && rep.Reply != wire.ReplySuccess {
		err = fmt.Errorf("%w: attach %s/%d: %s %s", api.ErrRemoteReply, ch, vdev, rep.Reply, rep.Error)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	c.SetDeadline(time.Time{})
	return c, nil
}
