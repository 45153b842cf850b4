// Package client implements the plugin-side half of the RPC substrate:
// it runs inside the child process, attaches to the host's control
// channel and audio SHM, and drives the dispatch loop that invokes a
// caller-supplied ProcessHandler on each StartProcessing. Grounded on
// original_source/include/RemotePlugin.h's RemotePluginClient and the
// teacher's shm_client_transport.go for the Go shape of the
// counterpart type.
package client

import (
	"log/slog"

	"github.com/POZAlabs/lmms/audio"
	"github.com/POZAlabs/lmms/rpc"
	"github.com/POZAlabs/lmms/transport"
	"github.com/POZAlabs/lmms/vstsync"
	"github.com/POZAlabs/lmms/wire"
)

// MIDIEvent is the decoded payload of a wire.MidiEvent message.
type MIDIEvent struct {
	Type    int
	Channel int
	P0, P1  int
}

// ProcessHandler is the set of callbacks a plugin wrapper supplies —
// the "virtual process()" of spec.md §4.6/§9 turned into a required
// interface instead of a base class to override.
type ProcessHandler interface {
	// Process is called once per StartProcessing while an audio buffer
	// is attached. in is nil when the negotiated input channel count is
	// zero; out is nil when the output channel count is zero.
	Process(in, out []float32)
	ProcessMIDIEvent(ev MIDIEvent, offset int)
	UpdateSampleRate(sr uint32)
	UpdateBufferSize(frames uint32)
}

// Client is the child-side RPC endpoint. Construct with Dial, then run
// Run (or DispatchOne in a caller-owned loop) to service the host.
type Client struct {
	ep      *rpc.Endpoint
	handler ProcessHandler
	log     *slog.Logger

	sampleRate uint32
	frames     uint32
	inCh       int
	outCh      int

	buf *audio.Buffer
}

// Dial attaches to the host's control channel (fifo or socket, per
// kind) and VST-sync handshake segment, then performs the
// attach-or-query handshake spec.md §4.8 describes: try attaching the
// VST-sync SHM read-only and send HostInfoGotten immediately on
// success; on failure, query SampleRateInformation/BufferSizeInformation
// explicitly before sending HostInfoGotten.
func Dial(kind transport.Kind, controlArgs transport.ChildArgs, vstSyncKey int, handler ProcessHandler, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	pair, err := transport.Dial(kind, controlArgs)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ep:      rpc.New(pair.In, pair.Out, nil),
		handler: handler,
		log:     log,
		frames:  0,
	}
	c.ep.SetHandler(rpc.HandlerFunc(c.handle))

	if vst, data, err := vstsync.Attach(vstSyncKey); err == nil {
		defer vst.Close()
		c.sampleRate = data.SampleRate
		c.frames = data.FramesPerPeriod
		c.ep.Send(wire.NewMessage(wire.HostInfoGotten))
		return c, nil
	}

	c.sampleRate = 44100
	c.ep.Send(wire.NewMessage(wire.SampleRateInformation))
	c.ep.Send(wire.NewMessage(wire.BufferSizeInformation))
	reply, err := c.ep.WaitFor(wire.BufferSizeInformation, false)
	if err != nil {
		return nil, err
	}
	if reply.ID != wire.BufferSizeInformation {
		c.log.Warn("could not get buffer size information")
	}
	c.ep.Send(wire.NewMessage(wire.HostInfoGotten))
	return c, nil
}

// SetInputCount, SetOutputCount, and SetInputOutputCount push new
// channel counts to the host, per spec.md §4.8's helpers.
func (c *Client) SetInputCount(n int) error {
	c.inCh = n
	msg := wire.NewMessage(wire.ChangeInputCount)
	msg.AddInt(int64(n))
	_, err := c.ep.Send(msg)
	return err
}

func (c *Client) SetOutputCount(n int) error {
	c.outCh = n
	msg := wire.NewMessage(wire.ChangeOutputCount)
	msg.AddInt(int64(n))
	_, err := c.ep.Send(msg)
	return err
}

func (c *Client) SetInputOutputCount(in, out int) error {
	c.inCh, c.outCh = in, out
	msg := wire.NewMessage(wire.ChangeInputOutputCount)
	msg.AddInt(int64(in)).AddInt(int64(out))
	_, err := c.ep.Send(msg)
	return err
}

// DebugMessage sends s to the host as a DebugMessage, per spec.md
// §4.8's debugMessage helper.
func (c *Client) DebugMessage(s string) error {
	msg := wire.NewMessage(wire.DebugMessage)
	msg.AddString(s)
	_, err := c.ep.Send(msg)
	return err
}

// InputCount and OutputCount report the counts most recently set.
func (c *Client) InputCount() int  { return c.inCh }
func (c *Client) OutputCount() int { return c.outCh }

// Run services the host until Quit is received or the endpoint is
// invalidated (peer crash or transport failure).
func (c *Client) Run() {
	for {
		cont, err := c.ep.DispatchOne()
		if err != nil {
			c.log.Error("dispatch failed", "err", err)
			return
		}
		if !cont {
			return
		}
	}
}

// Close detaches the audio buffer, if attached.
func (c *Client) Close() error {
	if c.buf != nil {
		return c.buf.Close()
	}
	return nil
}
