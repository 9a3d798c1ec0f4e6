package collcomm

// A ReduceFn is an operation that reduces many vectors
// into a single vector.
type ReduceFn func(vecs ...[]float64) []float64

// Sum is a ReduceFn that computes a vector sum.
func Sum(vecs ...[]float64) []float64 {
	return reduce(vecs, func(acc, x float64) float64 {
		return acc + x
	})
}

// Max is a ReduceFn that computes an element-wise max.
func Max(vecs ...[]float64) []float64 {
	return reduce(vecs, func(acc, x float64) float64 {
		if x > acc {
			return x
		}
		return acc
	})
}

func reduce(vecs [][]float64, f func(acc, x float64) float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	res := append([]float64{}, vecs[0]...)
	for _, v := range vecs[1:] {
		for i, x := range v {
			res[i] = f(res[i], x)
		}
	}
	return res
}
