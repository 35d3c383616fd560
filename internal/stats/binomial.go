// Package stats provides the exact binomial confidence bounds used by the
// calibration and certification stages. The bounds are Clopper-Pearson: the
// lower bound for k successes in n trials at confidence 1-alpha is the alpha
// quantile of Beta(k, n-k+1), and the upper bound is the 1-alpha quantile of
// Beta(k+1, n-k). Both are one-sided.
package stats

import (
	"fmt"
	"math"
)

// LowerBound returns the one-sided Clopper-Pearson lower confidence bound on
// the true success probability given k successes in n trials. k=0 yields 0.
func LowerBound(k, n int, confidence float64) (float64, error) {
	if err := checkArgs(k, n, confidence); err != nil {
		return 0, err
	}
	if k == 0 {
		return 0, nil
	}
	alpha := 1 - confidence
	if k == n {
		// Closed form: the alpha quantile of Beta(n, 1).
		return math.Pow(alpha, 1/float64(n)), nil
	}
	return betaQuantile(alpha, float64(k), float64(n-k+1)), nil
}

// UpperBound returns the one-sided Clopper-Pearson upper confidence bound on
// the true success probability given k successes in n trials. k=n yields 1.
func UpperBound(k, n int, confidence float64) (float64, error) {
	if err := checkArgs(k, n, confidence); err != nil {
		return 0, err
	}
	if k == n {
		return 1, nil
	}
	alpha := 1 - confidence
	if k == 0 {
		return 1 - math.Pow(alpha, 1/float64(n)), nil
	}
	return betaQuantile(1-alpha, float64(k+1), float64(n-k)), nil
}

func checkArgs(k, n int, confidence float64) error {
	if n <= 0 {
		return fmt.Errorf("trials must be positive, got %d", n)
	}
	if k < 0 || k > n {
		return fmt.Errorf("successes %d outside [0,%d]", k, n)
	}
	if confidence <= 0 || confidence >= 1 {
		return fmt.Errorf("confidence %v outside (0,1)", confidence)
	}
	return nil
}

// betaQuantile inverts the regularized incomplete beta function by bisection.
// RegIncBeta is strictly increasing in x for a, b > 0, so bisection converges
// unconditionally; 200 halvings push the bracket well below float64 epsilon.
func betaQuantile(p, a, b float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if regIncBeta(mid, a, b) < p {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-15 {
			break
		}
	}
	return (lo + hi) / 2
}

// regIncBeta computes the regularized incomplete beta function I_x(a, b)
// using the continued-fraction expansion with the standard symmetry switch
// at x > (a+1)/(a+b+2).
func regIncBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	logBeta := lgamma(a) + lgamma(b) - lgamma(a+b)
	front := math.Exp(a*math.Log(x)+b*math.Log(1-x)-logBeta) / a
	if x < (a+1)/(a+b+2) {
		return front * betaCF(x, a, b)
	}
	frontSym := math.Exp(a*math.Log(x)+b*math.Log(1-x)-logBeta) / b
	return 1 - frontSym*betaCF(1-x, b, a)
}

// betaCF evaluates the continued fraction for the incomplete beta function
// via the modified Lentz method.
func betaCF(x, a, b float64) float64 {
	const (
		maxIter = 300
		eps     = 3e-15
		tiny    = 1e-300
	)

	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
