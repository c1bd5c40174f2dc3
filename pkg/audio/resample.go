package audio

import (
	"log/slog"
	"sync"
)

// Resampler converts mono PCM16 frames to a fixed target sample rate. It logs
// a warning on the first rate mismatch and validates PCM data alignment.
// Create one per stream direction; not designed for shared use across goroutines.
type Resampler struct {
	TargetRate     int
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert resamples a frame to the target rate. If the source rate already
// matches the target, the frame is returned unchanged (zero allocation).
// Frames with an odd byte count are dropped (empty Data in the result).
func (r *Resampler) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		r.warnedCorrupt.Do(func() {
			slog.Warn("resampler: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
			)
		})
		return AudioFrame{SampleRate: r.TargetRate, Timestamp: frame.Timestamp}
	}

	// Fast path: source matches target.
	if frame.SampleRate == r.TargetRate {
		return frame
	}

	r.warnedMismatch.Do(func() {
		slog.Warn("resampler: sample rate mismatch, converting",
			"from", frame.SampleRate,
			"to", r.TargetRate,
		)
	})

	return AudioFrame{
		Data:       ResampleMono16(frame.Data, frame.SampleRate, r.TargetRate),
		SampleRate: r.TargetRate,
		Timestamp:  frame.Timestamp,
	}
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged; callers must treat the result as
// read-only in that case.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
