package realtime

// resampler converts a mono stream between sample rates by linear
// interpolation. It carries the last input sample across calls so block
// boundaries interpolate like the inside of a block.
type resampler struct {
	from, to int
	pos      int64 // read position in units of 1/to input samples
	last     float32
	primed   bool
}

func newResampler(from, to int) *resampler {
	return &resampler{from: from, to: to}
}

func (r *resampler) process(in []float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	if r.from == r.to {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	src := in
	if r.primed {
		src = make([]float32, 0, len(in)+1)
		src = append(src, r.last)
		src = append(src, in...)
	}

	to := int64(r.to)
	out := make([]float32, 0, len(src)*r.to/r.from+1)
	for {
		i := r.pos / to
		if i+1 >= int64(len(src)) {
			break
		}
		frac := float32(r.pos%to) / float32(to)
		out = append(out, src[i]*(1-frac)+src[i+1]*frac)
		r.pos += int64(r.from)
	}

	r.pos -= int64(len(src)-1) * to
	r.last = src[len(src)-1]
	r.primed = true
	return out
}

// interleave duplicates a mono signal into the given number of channels.
func interleave(mono []float32, channels int) []float32 {
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			out[i*channels+c] = s
		}
	}
	return out
}
