// File: engine/knapp/link.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package knapp

import (
	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/sirupsen/logrus"
)

// link is one virtual device: its handle, control channel, data channel
// and poll ring.
type link struct {
	master *Client
	handle uint64
	ctrl   *Client
	data   *dataChannel
	ring   *PollRing
	log    *logrus.Entry
}

type linkShape struct {
	pcores, lcores, depth int
	ctrlPort, dataPort    int
}

// openLink creates a vdev through master and attaches both of its channels.
// On failure everything acquired so far is released.
func openLink(master *Client, cfg control.KnappConfig, shape linkShape, l *logrus.Entry) (_ *link, err error) {
	h, err := master.CreateVDev(shape.pcores, shape.lcores, shape.depth)
	if err != nil {
		return nil, err
	}
	lk := &link{master: master, handle: h, ring: NewPollRing(shape.depth), log: l.WithField(logfields.VDev, h)}
	defer func() {
		if err != nil {
			lk.close()
		}
	}()
	if lk.ctrl, err = Dial(cfg.RemoteAddr, h, shape.ctrlPort, cfg); err != nil {
		return nil, err
	}
	conn, err := attach(cfg.RemoteAddr, shape.dataPort, wire.ChannelData, h, cfg)
	if err != nil {
		return nil, err
	}
	lk.data = newDataChannel(conn, lk.ring, lk.log)
	lk.log.WithFields(logrus.Fields{
		"pcores": shape.pcores,
		"lcores": shape.lcores,
		"depth":  shape.depth,
	}).Debug("Virtual device attached")
	return lk, nil
}

// allocate reserves remote memory through the vdev control channel.
func (l *link) allocate(size int) (api.DevicePtr, error) {
	return l.ctrl.Malloc(size, wire.DefaultAlign)
}

func (l *link) close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if l.data != nil {
		keep(l.data.Close())
	}
	if l.ctrl != nil {
		keep(l.ctrl.Close())
	}
	keep(l.master.DestroyVDev(l.handle))
	return first
}
