package compare

import (
	"github.com/andresmejia3/facebench/internal/types"
)

// Compare scores a predicted ClipResult against the ground truth.
//
// Sequences of different lengths yield types.MismatchReport() and a nil error so that
// a batch keeps going; an empty clip is an error because no accuracy can be computed.
func Compare(predicted types.ClipResult, truth types.GroundTruth) (types.ComparisonReport, error) {
	if len(predicted.Single) != len(truth.Single) || len(predicted.Multi) != len(truth.Multi) {
		return types.MismatchReport(), nil
	}
	if len(predicted.Single) == 0 || len(predicted.Multi) == 0 {
		return types.ComparisonReport{}, types.ErrEmptyClip
	}

	wrongSingle := diffIndices(predicted.Single, truth.Single)
	wrongMulti := diffIndices(predicted.Multi, truth.Multi)

	// A frame wrong in both dimensions is only missed once. Both lists are ascending.
	overlap := 0
	for i, j := 0, 0; i < len(wrongSingle) && j < len(wrongMulti); {
		switch {
		case wrongSingle[i] == wrongMulti[j]:
			overlap++
			i++
			j++
		case wrongSingle[i] < wrongMulti[j]:
			i++
		default:
			j++
		}
	}

	return types.ComparisonReport{
		Missed:         len(wrongSingle) + len(wrongMulti) - overlap,
		SingleAccuracy: 1 - float64(len(wrongSingle))/float64(len(predicted.Single)),
		MultiAccuracy:  1 - float64(len(wrongMulti))/float64(len(predicted.Multi)),
		WrongSingle:    wrongSingle,
		WrongMulti:     wrongMulti,
	}, nil
}

func diffIndices(a, b types.Sequence) []int {
	wrong := []int{}
	for i := range a {
		if a[i] != b[i] {
			wrong = append(wrong, i)
		}
	}
	return wrong
}

// MissRate is missed frames over total frames. Reports label it "Total accuracy".
// The mismatch sentinel yields -1/frames, the value reports have always carried for it.
func MissRate(r types.ComparisonReport, frames int) (float64, error) {
	if frames <= 0 {
		return 0, types.ErrEmptyClip
	}
	return float64(r.Missed) / float64(frames), nil
}
