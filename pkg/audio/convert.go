package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// SamplesFor returns how many interleaved samples of f cover n samples of a
// stream at dstRate, i.e. the number to read from f so that [Resize] yields n.
func (f Format) SamplesFor(n, dstRate int) int {
	if f.SampleRate <= 0 || dstRate <= 0 || f.SampleRate == dstRate {
		return n
	}
	return int(int64(n) * int64(f.SampleRate) / int64(dstRate))
}

// Resize resamples interleaved int16 PCM with the given channel count from
// srcRate to dstRate using linear interpolation per channel. If the rates
// match, pcm is returned unchanged.
func Resize(pcm []int16, channels, srcRate, dstRate int) []int16 {
	if channels <= 0 {
		channels = 1
	}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < channels {
		return pcm
	}
	srcFrames := len(pcm) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := range channels {
			s0 := float64(pcm[srcIdx*channels+c])
			s1 := float64(pcm[next*channels+c])
			out[i*channels+c] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

// Downmix averages each interleaved frame of the given channel count into a
// single mono sample. Uses int32 arithmetic and clamps to the int16 range.
func Downmix(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	out := make([]int16, frames)
	for i := range frames {
		var acc int32
		for c := range channels {
			acc += int32(pcm[i*channels+c])
		}
		out[i] = clamp16(acc / int32(channels))
	}
	return out
}

// Channel extracts channel ch from interleaved PCM.
func Channel(pcm []int16, channels, ch int) []int16 {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	out := make([]int16, frames)
	for i := range frames {
		out[i] = pcm[i*channels+ch]
	}
	return out
}

// ScaleVolume returns pcm scaled by volume percent (0–100).
func ScaleVolume(pcm []int16, volume int) []int16 {
	volume = ClampVolume(volume)
	if volume == 100 {
		return pcm
	}
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		out[i] = clamp16(int32(s) * int32(volume) / 100)
	}
	return out
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToInt16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// DurationSamples returns the number of interleaved samples in ms
// milliseconds of audio at rate Hz with the given channel count.
func DurationSamples(rate, channels, ms int) int {
	return rate * ms / 1000 * channels
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
