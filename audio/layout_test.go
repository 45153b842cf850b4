package audio

import "testing"

func sineInterleaved(frames, channels int) []float32 {
	buf := make([]float32, frames*channels)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			buf[f*channels+ch] = float32(f*channels+ch) * 0.01
		}
	}
	return buf
}

func TestCopyInCopyOutRoundTripInterleavedFastPath(t *testing.T) {
	const frames = 64
	in := sineInterleaved(frames, EngineChannels)
	shm := make([]float32, frames*EngineChannels*2) // room for in+out regions

	inRegion := shm[:frames*EngineChannels]
	outRegion := shm[frames*EngineChannels:]

	CopyIn(inRegion, in, EngineChannels, frames, false)
	// pass-through plugin: outputs = inputs
	copy(outRegion, inRegion)

	out := make([]float32, frames*EngineChannels)
	CopyOut(out, outRegion, EngineChannels, frames, false)

	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestCopyInSplitChannels(t *testing.T) {
	const frames = 8
	in := sineInterleaved(frames, EngineChannels)
	dst := make([]float32, EngineChannels*frames)

	CopyIn(dst, in, EngineChannels, frames, true)

	for ch := 0; ch < EngineChannels; ch++ {
		for f := 0; f < frames; f++ {
			got := dst[ch*frames+f]
			want := in[f*EngineChannels+ch]
			if got != want {
				t.Fatalf("ch=%d f=%d: got %v, want %v", ch, f, got, want)
			}
		}
	}
}

func TestCopyOutPlanarFallbackClearsUnfilledChannels(t *testing.T) {
	const frames = 4
	// a mono plugin (outChannels=1) into a stereo engine buffer.
	src := []float32{1, 2, 3, 4}
	engineOut := make([]float32, frames*EngineChannels)
	for i := range engineOut {
		engineOut[i] = 999 // garbage that must be cleared
	}

	CopyOut(engineOut, src, 1, frames, false)

	for f := 0; f < frames; f++ {
		if got, want := engineOut[f*EngineChannels+0], src[f]; got != want {
			t.Fatalf("frame %d ch0: got %v want %v", f, got, want)
		}
		if got := engineOut[f*EngineChannels+1]; got != 0 {
			t.Fatalf("frame %d ch1: got %v, want cleared to 0", f, got)
		}
	}
}

func TestCopyInNilInputIsNoop(t *testing.T) {
	dst := []float32{9, 9, 9}
	CopyIn(dst, nil, 2, 3, false)
	for _, v := range dst {
		if v != 9 {
			t.Fatalf("CopyIn with nil input must not touch dst, got %v", v)
		}
	}
}
