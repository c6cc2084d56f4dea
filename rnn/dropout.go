package rnn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// dropoutMask keeps each unit with probability keep and scales kept units
// by 1/keep. It returns nil when keep >= 1 so inference is an identity.
func dropoutMask(rows, cols int, keep float64, src rand.Source) *mat.Dense {
	if keep >= 1 {
		return nil
	}
	coin := distuv.Bernoulli{P: keep, Src: src}
	data := make([]float64, rows*cols)
	for i := range data {
		if coin.Rand() == 1 {
			data[i] = 1.0 / keep
		}
	}
	return mat.NewDense(rows, cols, data)
}
