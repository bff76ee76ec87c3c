package ultrasonic

import "math"

// goertzel returns the normalized signal power at the target frequency for
// one block of samples. It evaluates a single DFT bin in O(N) without
// computing the full spectrum, which keeps per-chunk cost flat no matter
// how many target frequencies the policy lists.
func goertzel(samples []float64, sampleRate int, freqHz float64) float64 {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return 0
	}
	k := freqHz / float64(sampleRate)
	w := 2 * math.Pi * k
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	return power / float64(n*n)
}

// powerDB converts normalized power to decibels. Silence maps to a large
// negative value instead of -Inf so SNR arithmetic stays finite.
func powerDB(power float64) float64 {
	if power <= 0 {
		return -200
	}
	return 10 * math.Log10(power)
}

// peakFrequency refines the tone estimate around a target bin by parabolic
// interpolation over three Goertzel evaluations. deltaHz sets the probe
// spacing; the result is genuine sub-bin resolution for clean tones.
func peakFrequency(samples []float64, sampleRate int, freqHz, deltaHz float64) float64 {
	pl := goertzel(samples, sampleRate, freqHz-deltaHz)
	pc := goertzel(samples, sampleRate, freqHz)
	pr := goertzel(samples, sampleRate, freqHz+deltaHz)

	denom := pl - 2*pc + pr
	if denom == 0 {
		return freqHz
	}
	offset := 0.5 * (pl - pr) / denom
	if offset > 1 {
		offset = 1
	} else if offset < -1 {
		offset = -1
	}
	return freqHz + offset*deltaHz
}
