package audio

// EngineChannels is the engine's canonical channel count. When the
// client's configured channel count equals this, a plain block memcpy
// suffices instead of a per-channel deinterleave — the fast path
// spec.md §4.7 point 5 and §6 call out ("a simple interleaved block-copy
// is used as a fast path").
const EngineChannels = 2

// CopyIn writes one period of engine input frames into the shared
// buffer's input region. engineIn is interleaved frame-major
// (frame*EngineChannels+ch), exactly what the engine hands the host per
// spec.md §1. dst must be at least inChannels*frames floats.
//
// Three cases, matching original_source/src/core/RemotePlugin.cpp's
// process():
//   - splitChannels: planar, one contiguous run per channel.
//   - inChannels == EngineChannels: interleaved block copy (fast path).
//   - otherwise: planar fallback, copying only the channels that exist.
func CopyIn(dst []float32, engineIn []float32, inChannels, frames int, splitChannels bool) {
	if engineIn == nil || inChannels <= 0 {
		return
	}
	switch {
	case splitChannels:
		for ch := 0; ch < inChannels; ch++ {
			base := ch * frames
			for f := 0; f < frames; f++ {
				dst[base+f] = engineIn[f*EngineChannels+ch]
			}
		}
	case inChannels == EngineChannels:
		copy(dst[:frames*EngineChannels], engineIn[:frames*EngineChannels])
	default:
		n := inChannels
		if n > EngineChannels {
			n = EngineChannels
		}
		for ch := 0; ch < n; ch++ {
			base := ch * frames
			for f := 0; f < frames; f++ {
				dst[base+f] = engineIn[f*EngineChannels+ch]
			}
		}
	}
}

// CopyOut writes one period of the shared buffer's output region back
// into the engine's interleaved output buffer. src is the output region
// (outChannels*frames floats, planar by channel). engineOut is
// interleaved frame-major and is zeroed first in the planar-fallback
// case so channels the plugin didn't fill stay silent, matching the
// original's "clear buffer, if plugin didn't fill up both channels."
func CopyOut(engineOut []float32, src []float32, outChannels, frames int, splitChannels bool) {
	if engineOut == nil || outChannels <= 0 {
		return
	}
	switch {
	case splitChannels:
		for ch := 0; ch < outChannels; ch++ {
			base := ch * frames
			for f := 0; f < frames; f++ {
				engineOut[f*EngineChannels+ch] = src[base+f]
			}
		}
	case outChannels == EngineChannels:
		copy(engineOut[:frames*EngineChannels], src[:frames*EngineChannels])
	default:
		for i := range engineOut[:frames*EngineChannels] {
			engineOut[i] = 0
		}
		n := outChannels
		if n > EngineChannels {
			n = EngineChannels
		}
		for ch := 0; ch < n; ch++ {
			base := ch * frames
			for f := 0; f < frames; f++ {
				engineOut[f*EngineChannels+ch] = src[base+f]
			}
		}
	}
}

// ClearInterleaved zeros an interleaved engine buffer, used by
// host.Host.Process when it has no valid output region to copy from
// (endpoint invalid, or the engine passed no output buffer at all).
func ClearInterleaved(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
