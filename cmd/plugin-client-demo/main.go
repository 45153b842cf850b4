// Command plugin-client-demo is the child process plugin-host-demo
// spawns: it dials the host's control channel using the positional
// argv the host built (transport identity, then the VST-sync key),
// infers which transport flavor it was given from argc — fifo passes
// two identity fields, socket passes one — and runs a pass-through
// plugin that copies its inputs to its outputs and logs every MIDI
// event it receives.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/POZAlabs/lmms/client"
	"github.com/POZAlabs/lmms/transport"
)

type passThrough struct {
	log *slog.Logger
}

func (p *passThrough) Process(in, out []float32) {
	if in == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}
	copy(out, in)
}

func (p *passThrough) ProcessMIDIEvent(ev client.MIDIEvent, offset int) {
	p.log.Info("midi event", "type", ev.Type, "channel", ev.Channel, "p0", ev.P0, "p1", ev.P1, "offset", offset)
}

func (p *passThrough) UpdateSampleRate(sr uint32) {
	p.log.Info("sample rate updated", "sampleRate", sr)
}

func (p *passThrough) UpdateBufferSize(frames uint32) {
	p.log.Info("buffer size updated", "frames", frames)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	args := os.Args[1:]
	var kind transport.Kind
	var controlArgs transport.ChildArgs
	var vstKeyStr string

	switch len(args) {
	case 2: // socket path + vst key
		kind = transport.KindSocket
		controlArgs = transport.ChildArgs{args[0]}
		vstKeyStr = args[1]
	case 3: // fifo out-key, in-key + vst key
		kind = transport.KindFifo
		controlArgs = transport.ChildArgs{args[0], args[1]}
		vstKeyStr = args[2]
	default:
		fmt.Fprintf(os.Stderr, "usage: plugin-client-demo <transport-args...> <vst-sync-key>\n")
		os.Exit(2)
	}

	vstKey, err := strconv.Atoi(vstKeyStr)
	if err != nil {
		logger.Error("invalid vst-sync key", "value", vstKeyStr, "err", err)
		os.Exit(1)
	}

	handler := &passThrough{log: logger}
	c, err := client.Dial(kind, controlArgs, vstKey, handler, logger)
	if err != nil {
		logger.Error("dial failed", "err", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.SetInputOutputCount(2, 2); err != nil {
		logger.Error("SetInputOutputCount failed", "err", err)
		os.Exit(1)
	}

	logger.Info("client ready", "transport", kind.String())
	c.Run()
	logger.Info("client shutting down")
}
