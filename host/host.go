// Package host implements the engine-side half of the RPC substrate:
// it spawns the child plugin process, owns the control channel and the
// audio SHM, and drives the per-period process round trip. Grounded on
// original_source/src/core/RemotePlugin.cpp (init/process/
// resizeSharedProcessingMemory/processMessage) for behavior and on the
// teacher's shm_server_transport.go for the Go shape of a
// transport-owning, message-dispatching host-side type.
package host

import (
	"log/slog"
	"sync"

	"github.com/POZAlabs/lmms/audio"
	"github.com/POZAlabs/lmms/config"
	"github.com/POZAlabs/lmms/internal/ipc"
	"github.com/POZAlabs/lmms/rpc"
	"github.com/POZAlabs/lmms/rpcerr"
	"github.com/POZAlabs/lmms/transport"
	"github.com/POZAlabs/lmms/vstsync"
	"github.com/POZAlabs/lmms/wire"
)

// DefaultChannels is the engine's canonical stereo channel count, used
// for the interleaved audio copy fast path (spec.md §4.7 point 5).
const DefaultChannels = audio.EngineChannels

// Host is the engine-side RPC endpoint for one child plugin process. A
// Host is not safe to Init twice concurrently; Process, the
// host-origin requests, and Close may be called from any goroutine
// once Init has returned.
type Host struct {
	cfg    config.Config
	alloc  *ipc.KeyAllocator
	log    *slog.Logger

	kind     transport.Kind
	listener *transport.Listener
	pair     *transport.Pair
	ep       *rpc.Endpoint

	mu             sync.Mutex
	inCh, outCh    int
	frames         int
	splitChannels  bool
	sampleRate     uint32
	buf            *audio.Buffer
	vst            *vstsync.Segment
	failed         bool

	proc *process
}

// Option configures a Host at construction time.
type Option func(*Host)

// WithSplitChannels forces the planar split-channel audio copy instead
// of the interleaved fast path or planar fallback.
func WithSplitChannels(on bool) Option {
	return func(h *Host) { h.splitChannels = on }
}

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// New constructs a Host with the given configuration, sample rate, and
// initial channel counts (spec.md §3's Audio SHM starts sized for
// these until the client requests a change). It does not spawn
// anything yet; call Init for that.
func New(cfg config.Config, sampleRate uint32, inChannels, outChannels, framesPerPeriod int, opts ...Option) (*Host, error) {
	kind, err := transport.ParseKind(cfg.Transport.Kind)
	if err != nil {
		return nil, err
	}
	h := &Host{
		cfg:        cfg,
		alloc:      ipc.NewKeyAllocator(1),
		log:        slog.Default(),
		kind:       kind,
		inCh:       inChannels,
		outCh:      outChannels,
		frames:     framesPerPeriod,
		sampleRate: sampleRate,
		failed:     true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Failed reports whether initialization or a subsequent operation has
// left the Host unable to process, per spec.md §7's failed flag.
func (h *Host) Failed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed
}

// Init spawns executable (resolved via Spawn's search rules), performs
// the control-channel listen/accept dance, negotiates the audio SHM,
// waits for HostInfoGotten, and — if waitForInitDone is true — busy-waits
// for InitDone too, keeping a foreground event pump responsive (per
// spec.md §4.7 point 3). It returns true if initialization failed,
// mirroring the original's "init() returns true-on-failure."
func (h *Host) Init(executable string, waitForInitDone bool, extraArgs []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	listener, err := transport.Listen(h.kind, h.alloc, h.cfg.Transport.SocketDir, h.cfg.Transport.FIFOCapacity)
	if err != nil {
		h.log.Error("control channel setup failed", "err", err)
		h.failed = true
		return true
	}
	h.listener = listener

	vst, err := vstsync.Publish(h.alloc, vstsync.Data{
		SampleRate:      h.sampleRate,
		FramesPerPeriod: uint32(h.frames),
	})
	if err != nil {
		h.log.Error("vst-sync handshake segment failed", "err", err)
		listener.Close()
		h.failed = true
		return true
	}
	h.vst = vst

	proc, err := spawn(executable, h.cfg.Transport.PluginDirs, listener.ChildArgs(), vst.Key(), extraArgs)
	if err != nil {
		h.log.Error("spawning remote plugin failed", "err", err, "exec", executable)
		vst.Close()
		listener.Close()
		h.failed = true
		return true
	}
	h.proc = proc

	pair, err := listener.Accept()
	if err != nil {
		h.log.Error("accepting child connection failed", "err", err)
		proc.kill()
		vst.Close()
		listener.Close()
		h.failed = true
		return true
	}
	h.pair = pair

	h.ep = rpc.New(pair.In, pair.Out, nil)
	h.ep.SetHandler(rpc.HandlerFunc(h.handle))

	proc.watch(h.ep)

	if err := h.resizeAudioBufferLocked(); err != nil {
		h.log.Error("initial audio buffer allocation failed", "err", err)
		h.failed = true
		return true
	}

	// WaitFor, not a bare Receive: a client that could not attach the
	// VST-sync segment falls back to querying SampleRateInformation and
	// BufferSizeInformation over the control channel before it ever
	// sends HostInfoGotten, and those queries must be dispatched to
	// handle() to get answered rather than treated as a protocol
	// violation.
	msg, err := h.ep.WaitFor(wire.HostInfoGotten, waitForInitDone)
	if err != nil || msg.ID != wire.HostInfoGotten {
		h.log.Warn("did not receive HostInfoGotten", "got", msg.ID)
		h.failed = true
		return true
	}

	if waitForInitDone {
		reply, err := h.ep.WaitFor(wire.InitDone, waitForInitDone)
		if err != nil || reply.ID != wire.InitDone {
			h.failed = true
			return true
		}
	}

	h.failed = false
	return false
}

// SetChannels updates the input/output channel counts and reallocates
// the audio SHM, publishing the new key to the client.
func (h *Host) SetChannels(inChannels, outChannels int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inCh, h.outCh = inChannels, outChannels
	return h.resizeAudioBufferLocked()
}

// SetFramesPerPeriod updates the period size and reallocates the audio
// SHM.
func (h *Host) SetFramesPerPeriod(frames int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = frames
	return h.resizeAudioBufferLocked()
}

func (h *Host) resizeAudioBufferLocked() error {
	if h.buf != nil {
		h.buf.Close()
		h.buf = nil
	}
	buf, err := audio.Allocate(h.alloc, h.inCh, h.outCh, h.frames)
	if err != nil {
		return rpcerr.Wrap(rpcerr.KindResourceUnavailable, "allocate audio shm", err)
	}
	h.buf = buf
	if h.ep != nil {
		msg := wire.NewMessage(wire.ChangeSharedMemoryKey)
		msg.AddInt(int64(buf.Key()))
		msg.AddInt(int64(audio.Size(h.inCh, h.outCh, h.frames)))
		if _, err := h.ep.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Process drives one period: copies engineIn into the audio SHM, sends
// StartProcessing, waits for ProcessingDone, and copies the output
// region into engineOut. It returns false (and zeroes engineOut, if
// non-nil) if the endpoint is invalid or the engine passed no output
// buffer, per spec.md §4.7 point 5 and §7.
func (h *Host) Process(engineIn, engineOut []float32) bool {
	// Snapshot the state Process needs and release h.mu before the
	// blocking Send/WaitFor round trip below: WaitFor may re-enter
	// handle() on this same goroutine (spec.md §5's recursive-dispatch
	// pattern), and handle() itself takes h.mu for ChangeInputCount and
	// friends — holding it across the wait would self-deadlock.
	h.mu.Lock()
	if h.failed || h.ep == nil || h.ep.IsInvalid() {
		h.mu.Unlock()
		audio.ClearInterleaved(engineOut)
		return false
	}
	buf, frames, splitChannels := h.buf, h.frames, h.splitChannels
	inputs := h.inCh
	if inputs > DefaultChannels {
		inputs = DefaultChannels
	}
	outCh := h.outCh
	h.mu.Unlock()

	buf.Zero()
	if engineIn != nil && inputs > 0 {
		audio.CopyIn(buf.Inputs(), engineIn, inputs, frames, splitChannels)
	}

	h.ep.Lock()
	defer h.ep.Unlock()

	if _, err := h.ep.Send(wire.NewMessage(wire.StartProcessing)); err != nil {
		audio.ClearInterleaved(engineOut)
		return false
	}

	if h.ep.IsInvalid() || engineOut == nil || outCh == 0 {
		audio.ClearInterleaved(engineOut)
		return false
	}

	if _, err := h.ep.WaitFor(wire.ProcessingDone, false); err != nil || h.ep.IsInvalid() {
		audio.ClearInterleaved(engineOut)
		return false
	}

	outputs := outCh
	if outputs > DefaultChannels {
		outputs = DefaultChannels
	}
	audio.CopyOut(engineOut, buf.Outputs(), outputs, frames, splitChannels)
	return true
}

// Close sends Quit, waits for the child to exit (escalating to
// terminate/kill after the configured grace period), stops the
// watcher, and releases the audio SHM, the VST-sync SHM, and the
// listener (FIFO segments and semaphores, or the listening socket and
// its path). The accepted connection of the socket transport is not
// closed here.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ep != nil && !h.failed && h.proc != nil && h.proc.isRunning() {
		h.ep.Lock()
		h.ep.Send(wire.NewMessage(wire.Quit))
		h.ep.Unlock()
	}
	if h.proc != nil {
		h.proc.shutdown(h.cfg.Watchdog.ShutdownGrace)
	}
	if h.ep != nil {
		h.ep.Invalidate()
	}
	if h.buf != nil {
		h.buf.Close()
	}
	if h.vst != nil {
		h.vst.Close()
	}
	if h.listener != nil {
		h.listener.Close()
	}
	h.failed = true
	return nil
}
