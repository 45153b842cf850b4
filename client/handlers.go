package client

import (
	"fmt"

	"github.com/POZAlabs/lmms/audio"
	"github.com/POZAlabs/lmms/wire"
)

// handle implements rpc.Handler for the client side, mirroring
// original_source/include/RemotePlugin.h's
// RemotePluginClient::processMessage switch.
func (c *Client) handle(msg wire.Message) bool {
	switch msg.ID {
	case wire.Undefined:
		return false

	case wire.SampleRateInformation:
		sr, _ := msg.ArgInt(0)
		c.sampleRate = uint32(sr)
		c.handler.UpdateSampleRate(c.sampleRate)
		c.ep.Send(wire.NewMessage(wire.InformationUpdated))
		return true

	case wire.BufferSizeInformation:
		frames, _ := msg.ArgInt(0)
		c.frames = uint32(frames)
		c.handler.UpdateBufferSize(c.frames)
		return true

	case wire.Quit:
		return false

	case wire.MidiEvent:
		t, _ := msg.ArgInt(0)
		ch, _ := msg.ArgInt(1)
		p0, _ := msg.ArgInt(2)
		p1, _ := msg.ArgInt(3)
		offset, _ := msg.ArgInt(4)
		c.handler.ProcessMIDIEvent(MIDIEvent{Type: int(t), Channel: int(ch), P0: int(p0), P1: int(p1)}, int(offset))
		return true

	case wire.StartProcessing:
		c.doProcessing()
		c.ep.Send(wire.NewMessage(wire.ProcessingDone))
		return true

	case wire.ChangeSharedMemoryKey:
		key, _ := msg.ArgInt(0)
		c.attachAudioBuffer(int(key))
		return true

	case wire.InitDone:
		return true

	default:
		c.DebugMessage(fmt.Sprintf("undefined message: %d", int(msg.ID)))
		return true
	}
}

// attachAudioBuffer re-attaches the audio SHM at the key the host just
// published, detaching whatever was attached before. On failure it
// reports via DebugMessage over the control channel rather than
// failing the whole endpoint, matching spec.md §4.8.
func (c *Client) attachAudioBuffer(key int) {
	if c.buf != nil {
		c.buf.Close()
		c.buf = nil
	}
	buf, err := audio.Attach(key, c.inCh, c.outCh, int(c.frames))
	if err != nil {
		c.DebugMessage(fmt.Sprintf("failed attaching audio shm at key %d: %v", key, err))
		return
	}
	c.buf = buf
}

// doProcessing calls the handler's Process against the audio SHM:
// inputs if the negotiated input count is positive, else nil, and
// outputs at the input-region offset — spec.md §4.8's StartProcessing
// handling.
func (c *Client) doProcessing() {
	if c.buf == nil {
		return
	}
	var in []float32
	if c.inCh > 0 {
		in = c.buf.Inputs()
	}
	c.handler.Process(in, c.buf.Outputs())
}
