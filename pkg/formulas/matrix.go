package formulas

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CovarianceMatrix builds the sample covariance matrix of the given return
// series. Each row of series is one asset's return history; all rows must
// have the same length.
func CovarianceMatrix(series [][]float64) (*mat.SymDense, error) {
	n := len(series)
	if n == 0 {
		return nil, fmt.Errorf("no return series provided")
	}
	length := len(series[0])
	for i, s := range series {
		if len(s) != length {
			return nil, fmt.Errorf("return series %d has length %d, expected %d", i, len(s), length)
		}
	}
	if length < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d", length)
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, Covariance(series[i], series[j]))
		}
	}
	return cov, nil
}

// CorrelationMatrix builds the Pearson correlation matrix of the given
// return series. Constant series correlate 0 with everything and 1 with
// themselves so downstream clustering stays well defined.
func CorrelationMatrix(series [][]float64) (*mat.SymDense, error) {
	n := len(series)
	if n == 0 {
		return nil, fmt.Errorf("no return series provided")
	}

	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			c := Correlation(series[i], series[j])
			if c != c { // NaN from zero-variance input
				c = 0
			}
			corr.SetSym(i, j, c)
		}
	}
	return corr, nil
}

// PseudoInverse computes the Moore-Penrose pseudo-inverse via thin SVD.
// Singular values below the tolerance are treated as zero, which keeps the
// inverse stable when the input is rank deficient.
func PseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd factorization failed")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	const tolerance = 1e-12
	sInv := mat.NewDense(len(values), len(values), nil)
	for i, s := range values {
		if s > tolerance {
			sInv.Set(i, i, 1/s)
		}
	}

	var tmp, pinv mat.Dense
	tmp.Mul(&v, sInv)
	pinv.Mul(&tmp, u.T())
	return &pinv, nil
}
