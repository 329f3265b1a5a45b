package audio

// PCM conversion helpers for the WebSocket ingest path. Browsers deliver
// either Opus packets (decoded upstream to interleaved int16 PCM) or raw
// little-endian int16 PCM; the detection pipeline wants normalized mono
// float32 at [DetectorSampleRate]. Conversion order is downmix first, then
// normalize, then resample — resampling mono is a third of the work of
// resampling decoded stereo.

// BytesToInt16 converts little-endian bytes to int16 PCM samples. A trailing
// odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// StereoToMonoInt16 averages L+R pairs of interleaved stereo int16 PCM into
// mono. int32 arithmetic prevents overflow.
func StereoToMonoInt16(pcm []int16) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16((int32(pcm[i*2]) + int32(pcm[i*2+1])) / 2)
	}
	return out
}

// Int16ToFloat32 normalizes int16 PCM to float32 samples in [-1, 1].
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ResampleMonoFloat32 resamples mono float32 samples from srcRate to dstRate
// using linear interpolation. Used for capture rates that are not an integer
// multiple of the detector rate (e.g. 44.1 kHz), where the bridge's averaging
// downsampler cannot apply. If srcRate == dstRate the input is returned
// unchanged.
func ResampleMonoFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
