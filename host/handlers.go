package host

import (
	"github.com/POZAlabs/lmms/rpc"
	"github.com/POZAlabs/lmms/wire"
)

// handle implements rpc.Handler for the host side, spec.md §4.7 point
// 7: ChangeInput/Output/InputOutputCount reallocate the audio SHM;
// SampleRateInformation/BufferSizeInformation reply with the engine's
// current values; DebugMessage forwards argument 0 to stderr; InitDone
// is acknowledged by sending InitDone back; everything else is a no-op.
// Host installs this handler itself and offers no hook for handling
// further ids.
func (h *Host) handle(msg wire.Message) bool {
	switch msg.ID {
	case wire.Undefined:
		return false

	case wire.InitDone:
		h.ep.Send(wire.NewMessage(wire.InitDone))
		return true

	case wire.SampleRateInformation:
		h.mu.Lock()
		sr := h.sampleRate
		h.mu.Unlock()
		reply := wire.NewMessage(wire.SampleRateInformation)
		reply.AddInt(int64(sr))
		h.ep.Send(reply)
		return true

	case wire.BufferSizeInformation:
		h.mu.Lock()
		frames := h.frames
		h.mu.Unlock()
		reply := wire.NewMessage(wire.BufferSizeInformation)
		reply.AddInt(int64(frames))
		h.ep.Send(reply)
		return true

	case wire.ChangeInputCount:
		n, _ := msg.ArgInt(0)
		h.mu.Lock()
		h.inCh = int(n)
		err := h.resizeAudioBufferLocked()
		h.mu.Unlock()
		if err != nil {
			h.log.Error("resize audio buffer on ChangeInputCount", "err", err)
		}
		return true

	case wire.ChangeOutputCount:
		n, _ := msg.ArgInt(0)
		h.mu.Lock()
		h.outCh = int(n)
		err := h.resizeAudioBufferLocked()
		h.mu.Unlock()
		if err != nil {
			h.log.Error("resize audio buffer on ChangeOutputCount", "err", err)
		}
		return true

	case wire.ChangeInputOutputCount:
		in, _ := msg.ArgInt(0)
		out, _ := msg.ArgInt(1)
		h.mu.Lock()
		h.inCh, h.outCh = int(in), int(out)
		err := h.resizeAudioBufferLocked()
		h.mu.Unlock()
		if err != nil {
			h.log.Error("resize audio buffer on ChangeInputOutputCount", "err", err)
		}
		return true

	case wire.DebugMessage:
		h.log.Warn("remote plugin debug message", "text", msg.ArgString(0))
		return true

	case wire.ProcessingDone, wire.Quit:
		return true

	default:
		return true
	}
}

// SendMIDIEvent forwards one MIDI event to the client, per spec.md
// §4.7 point 6.
func (h *Host) SendMIDIEvent(eventType, channel int, p0, p1 int, offset int) error {
	h.ep.Lock()
	defer h.ep.Unlock()
	msg := wire.NewMessage(wire.MidiEvent)
	msg.AddInt(int64(eventType)).AddInt(int64(channel)).AddInt(int64(p0)).AddInt(int64(p1)).AddInt(int64(offset))
	_, err := h.ep.Send(msg)
	return err
}

// UpdateSampleRate pushes a new sample rate to the client and waits for
// InformationUpdated.
func (h *Host) UpdateSampleRate(sr uint32) error {
	h.mu.Lock()
	h.sampleRate = sr
	h.mu.Unlock()

	h.ep.Lock()
	defer h.ep.Unlock()
	msg := wire.NewMessage(wire.SampleRateInformation)
	msg.AddInt(int64(sr))
	if _, err := h.ep.Send(msg); err != nil {
		return err
	}
	reply, err := h.ep.WaitFor(wire.InformationUpdated, true)
	if err != nil {
		return err
	}
	return rpc.ErrIfUndefined(reply, wire.InformationUpdated)
}

// ShowUI, HideUI, and ToggleUI send their respective opaque request.
func (h *Host) ShowUI() error   { return h.sendOnly(wire.ShowUI) }
func (h *Host) HideUI() error   { return h.sendOnly(wire.HideUI) }
func (h *Host) ToggleUI() error { return h.sendOnly(wire.ToggleUI) }

func (h *Host) sendOnly(id wire.ID) error {
	h.ep.Lock()
	defer h.ep.Unlock()
	_, err := h.ep.Send(wire.NewMessage(id))
	return err
}

// IsUIVisible asks the client whether its UI is visible. It returns a
// separate error rather than conflating transport-broken with "replied
// no" under a single -1 sentinel, resolving the open question in
// spec.md §9.
func (h *Host) IsUIVisible() (bool, error) {
	h.ep.Lock()
	defer h.ep.Unlock()
	if _, err := h.ep.Send(wire.NewMessage(wire.IsUIVisible)); err != nil {
		return false, err
	}
	reply, err := h.ep.WaitFor(wire.IsUIVisible, false)
	if err != nil {
		return false, err
	}
	if err := rpc.ErrIfUndefined(reply, wire.IsUIVisible); err != nil {
		return false, err
	}
	v, _ := reply.ArgInt(0)
	return v != 0, nil
}

// SaveSettingsToString and LoadSettingsFromString round trip an opaque
// settings blob, per SPEC_FULL.md §10's supplemented settings/preset
// messages — the payload itself is never interpreted here, only
// carried.
//
// SaveSettingsToString waits for the client to reply with the same
// message id (see stringRoundTrip) carrying the blob. The client
// package's handler has no case for SaveSettingsToString and answers it
// through its default DebugMessage reply, so against that client this
// call stays blocked until the endpoint is invalidated.
func (h *Host) SaveSettingsToString() (string, error) {
	return h.stringRoundTrip(wire.SaveSettingsToString)
}

func (h *Host) LoadSettingsFromString(settings string) error {
	return h.sendWithArg(wire.LoadSettingsFromString, settings)
}

func (h *Host) SaveSettingsToFile(path string) error {
	return h.sendWithArg(wire.SaveSettingsToFile, path)
}

func (h *Host) LoadSettingsFromFile(path string) error {
	return h.sendWithArg(wire.LoadSettingsFromFile, path)
}

func (h *Host) SavePresetFile(path string) error {
	return h.sendWithArg(wire.SavePresetFile, path)
}

func (h *Host) LoadPresetFile(path string) error {
	return h.sendWithArg(wire.LoadPresetFile, path)
}

func (h *Host) sendWithArg(id wire.ID, arg string) error {
	h.ep.Lock()
	defer h.ep.Unlock()
	msg := wire.NewMessage(id)
	msg.AddString(arg)
	_, err := h.ep.Send(msg)
	return err
}

// stringRoundTrip sends id and blocks on WaitFor(id) for the reply,
// which only returns if the peer's handler answers with the matching
// id (or the endpoint is invalidated) — a peer that never replies to id
// leaves the wait unresolved.
func (h *Host) stringRoundTrip(id wire.ID) (string, error) {
	h.ep.Lock()
	defer h.ep.Unlock()
	if _, err := h.ep.Send(wire.NewMessage(id)); err != nil {
		return "", err
	}
	reply, err := h.ep.WaitFor(id, false)
	if err != nil {
		return "", err
	}
	if err := rpc.ErrIfUndefined(reply, id); err != nil {
		return "", err
	}
	return reply.ArgString(0), nil
}
