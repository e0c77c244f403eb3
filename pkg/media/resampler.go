package media

import "fmt"

// Resampler преобразует частоту дискретизации моно PCM линейной интерполяцией.
// Размер выхода для кадра: len(input) * outRate / inRate, что сохраняет
// длительность кадра при целочисленном соотношении частот.
type Resampler struct {
	inRate  int
	outRate int
}

// NewResampler создает ресемплер между двумя частотами.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, NewMediaError(ErrorCodeAudioRateInvalid,
			fmt.Sprintf("некорректная частота дискретизации: вход=%d, выход=%d", inRate, outRate))
	}
	return &Resampler{inRate: inRate, outRate: outRate}, nil
}

// InRate частота входа
func (r *Resampler) InRate() int { return r.inRate }

// OutRate частота выхода
func (r *Resampler) OutRate() int { return r.outRate }

// Resample возвращает новый кадр на выходной частоте.
func (r *Resampler) Resample(input []int16) []int16 {
	if len(input) == 0 {
		return []int16{}
	}
	if r.inRate == r.outRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out
	}

	n := int(int64(len(input)) * int64(r.outRate) / int64(r.inRate))
	if n == 0 {
		n = 1
	}
	out := make([]int16, n)
	ratio := float64(r.inRate) / float64(r.outRate)
	last := len(input) - 1

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = input[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(input[idx])*(1-frac) + float64(input[idx+1])*frac
		out[i] = Clamp16(int32(v))
	}
	return out
}
