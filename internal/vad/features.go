package vad

import (
	"math"
	"math/cmplx"
)

// frameFeatures holds the per-frame acoustic measurements the estimator
// fusion is computed from. All values are finite; extraction substitutes
// neutral values when a measurement fails numerically.
type frameFeatures struct {
	// rms is the root-mean-square amplitude, normalised to [0, 1]
	// (1.0 = full-scale 16-bit PCM).
	rms float64

	// zcr is the zero-crossing rate as a fraction of sample pairs.
	zcr float64

	// centroid is the spectral centroid in Hz.
	centroid float64

	// bandwidth is the spectral spread around the centroid in Hz.
	bandwidth float64

	// flatness is the spectral flatness (geometric/arithmetic magnitude mean),
	// near 0 for tonal/voiced content and near 1 for white noise.
	flatness float64

	// harmonicity estimates harmonic strength from the normalised
	// autocorrelation peak in the speech pitch range, in [0, 1].
	harmonicity float64

	// formantEnergy is the fraction of spectral energy in the formant band
	// (300–3400 Hz).
	formantEnergy float64

	// lowBand, midBand, highBand are energy fractions in 0–300 Hz,
	// 300–3400 Hz, and 3400 Hz–Nyquist respectively. They sum to ~1.
	lowBand, midBand, highBand float64
}

// neutralProbability is substituted when a sub-feature cannot be computed,
// so one bad measurement never aborts the frame.
const neutralProbability = 0.5

// extractFeatures measures frame-level acoustics from 16-bit PCM samples.
// samples must be non-empty; the caller handles the degenerate case.
func extractFeatures(samples []float64, sampleRate int) frameFeatures {
	f := frameFeatures{
		rms:           sanitize(rmsAmplitude(samples), 0),
		zcr:           sanitize(zeroCrossingRate(samples), 0),
		harmonicity:   sanitize(harmonicStrength(samples, sampleRate), neutralProbability),
		flatness:      neutralProbability,
		formantEnergy: neutralProbability,
	}

	spectrum := magnitudeSpectrum(samples)
	if len(spectrum) > 1 {
		binHz := float64(sampleRate) / float64(2*len(spectrum))
		f.centroid = sanitize(spectralCentroid(spectrum, binHz), 0)
		f.bandwidth = sanitize(spectralBandwidth(spectrum, binHz, f.centroid), 0)
		f.flatness = sanitize(spectralFlatness(spectrum), neutralProbability)
		low, mid, high := bandEnergies(spectrum, binHz)
		f.lowBand = sanitize(low, 1.0/3.0)
		f.midBand = sanitize(mid, 1.0/3.0)
		f.highBand = sanitize(high, 1.0/3.0)
		f.formantEnergy = f.midBand
	}

	return f
}

// samplesFromPCM decodes little-endian 16-bit PCM into float64 samples in
// [-1, 1]. Odd trailing bytes are ignored.
func samplesFromPCM(data []byte) []float64 {
	n := len(data) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		out[i] = float64(s) / 32768.0
	}
	return out
}

// rmsAmplitude returns the root-mean-square of samples.
func rmsAmplitude(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ. Voiced speech sits in a characteristic mid range; broadband noise
// and fricatives push it higher.
func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// magnitudeSpectrum returns the single-sided magnitude spectrum of samples,
// zero-padded to the next power of two. Returns nil for inputs shorter than
// four samples.
func magnitudeSpectrum(samples []float64) []float64 {
	if len(samples) < 4 {
		return nil
	}
	n := 1
	for n < len(samples) {
		n <<= 1
	}
	buf := make([]complex128, n)
	// Hann window reduces leakage so centroid/flatness stay meaningful on
	// short frames.
	for i, s := range samples {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(len(samples)-1))
		buf[i] = complex(s*w, 0)
	}

	fft(buf)

	half := n / 2
	mags := make([]float64, half)
	for i := 0; i < half; i++ {
		mags[i] = cmplx.Abs(buf[i])
	}
	return mags
}

// fft performs an in-place radix-2 Cooley-Tukey FFT. len(buf) must be a
// power of two.
func fft(buf []complex128) {
	n := len(buf)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := cmplx.Rect(1, ang)
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for j := 0; j < length/2; j++ {
				u := buf[i+j]
				v := buf[i+j+length/2] * w
				buf[i+j] = u + v
				buf[i+j+length/2] = u - v
				w *= wl
			}
		}
	}
}

// spectralCentroid returns the amplitude-weighted mean frequency in Hz.
func spectralCentroid(spectrum []float64, binHz float64) float64 {
	var weighted, total float64
	for i, m := range spectrum {
		weighted += float64(i) * binHz * m
		total += m
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// spectralBandwidth returns the amplitude-weighted standard deviation of
// frequency around the centroid, in Hz.
func spectralBandwidth(spectrum []float64, binHz, centroid float64) float64 {
	var weighted, total float64
	for i, m := range spectrum {
		d := float64(i)*binHz - centroid
		weighted += d * d * m
		total += m
	}
	if total == 0 {
		return 0
	}
	return math.Sqrt(weighted / total)
}

// spectralFlatness returns the ratio of geometric to arithmetic mean of the
// magnitude spectrum. Tonal (voiced) content approaches 0; white noise
// approaches 1.
func spectralFlatness(spectrum []float64) float64 {
	const eps = 1e-12
	var logSum, sum float64
	n := 0
	// Skip the DC bin; it dominates the arithmetic mean on frames with offset.
	for _, m := range spectrum[1:] {
		logSum += math.Log(m + eps)
		sum += m + eps
		n++
	}
	if n == 0 || sum == 0 {
		return neutralProbability
	}
	geo := math.Exp(logSum / float64(n))
	arith := sum / float64(n)
	return geo / arith
}

// bandEnergies splits spectral energy into low (0–300 Hz), mid/formant
// (300–3400 Hz), and high (3400 Hz–Nyquist) fractions.
func bandEnergies(spectrum []float64, binHz float64) (low, mid, high float64) {
	var total float64
	for i, m := range spectrum {
		e := m * m
		total += e
		switch hz := float64(i) * binHz; {
		case hz < 300:
			low += e
		case hz < 3400:
			mid += e
		default:
			high += e
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	return low / total, mid / total, high / total
}

// harmonicStrength estimates voicing from the peak of the normalised
// autocorrelation over lags corresponding to 60–400 Hz pitch.
func harmonicStrength(samples []float64, sampleRate int) float64 {
	if sampleRate <= 0 || len(samples) < 8 {
		return neutralProbability
	}
	minLag := sampleRate / 400
	maxLag := sampleRate / 60
	if maxLag >= len(samples) {
		maxLag = len(samples) - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return neutralProbability
	}

	var energy float64
	for _, s := range samples {
		energy += s * s
	}
	if energy == 0 {
		return 0
	}

	best := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var acc float64
		for i := 0; i+lag < len(samples); i++ {
			acc += samples[i] * samples[i+lag]
		}
		if r := acc / energy; r > best {
			best = r
		}
	}
	if best < 0 {
		best = 0
	}
	if best > 1 {
		best = 1
	}
	return best
}

// sanitize replaces NaN or infinite measurements with fallback so a numerical
// error in one sub-feature never aborts the frame.
func sanitize(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
