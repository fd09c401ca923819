package processors

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

var (
	// ErrInvalidCashFlows means the flow list cannot define an internal
	// rate of return: fewer than two flows, or all flows share a sign.
	ErrInvalidCashFlows = errors.New("cash flows must contain at least one positive and one negative amount")
	// ErrDidNotConverge means Newton-Raphson failed for both guesses.
	ErrDidNotConverge = errors.New("xirr did not converge")
)

const (
	xirrMaxIterations = 100
	xirrTolerance     = 1e-6
	xirrRateFloor     = -0.99
	xirrRateCeil      = 10.0
	xirrDefaultGuess  = 0.1
)

// XIRRSolver computes the annualized money-weighted return of irregularly
// dated cash flows via Newton-Raphson root finding on the NPV function.
type XIRRSolver struct{}

func NewXIRRSolver() *XIRRSolver {
	return &XIRRSolver{}
}

// Solve returns the rate r for which NPV(r) = sum(cf_i / (1+r)^(days_i/365))
// is zero. The rate is kept within [-0.99, 10.0]; convergence is |NPV| or
// rate delta under 1e-6 within 100 iterations. On failure with the default
// guess a single retry with guess 0 is attempted. Deterministic for
// identical inputs.
func (s *XIRRSolver) Solve(flows []models.CashFlow, guess float64) (float64, error) {
	if err := validateFlows(flows); err != nil {
		return 0, err
	}

	sorted := make([]models.CashFlow, len(flows))
	copy(sorted, flows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	rate, err := newtonRaphson(sorted, guess)
	if err != nil && guess == xirrDefaultGuess {
		// Heuristic fallback: a zero guess rescues flat-derivative starts
		// for near-zero true rates.
		rate, err = newtonRaphson(sorted, 0.0)
	}
	if err != nil {
		return 0, err
	}
	return rate, nil
}

func validateFlows(flows []models.CashFlow) error {
	if len(flows) < 2 {
		return ErrInvalidCashFlows
	}
	hasPositive, hasNegative := false, false
	for _, f := range flows {
		if f.Amount > 0 {
			hasPositive = true
		}
		if f.Amount < 0 {
			hasNegative = true
		}
	}
	if !hasPositive || !hasNegative {
		return ErrInvalidCashFlows
	}
	return nil
}

func newtonRaphson(flows []models.CashFlow, guess float64) (float64, error) {
	t0 := flows[0].Date
	rate := guess

	for i := 0; i < xirrMaxIterations; i++ {
		npv, derivative := npvAndDerivative(flows, t0, rate)

		if math.Abs(npv) < xirrTolerance {
			return rate, nil
		}
		if math.Abs(derivative) < 1e-12 || math.IsNaN(derivative) {
			return 0, ErrDidNotConverge
		}

		next := rate - npv/derivative
		if next < xirrRateFloor {
			next = xirrRateFloor
		}
		if next > xirrRateCeil {
			next = xirrRateCeil
		}
		if math.Abs(next-rate) < xirrTolerance {
			return next, nil
		}
		rate = next
	}
	return 0, ErrDidNotConverge
}

func npvAndDerivative(flows []models.CashFlow, t0 time.Time, rate float64) (float64, float64) {
	var npv, derivative float64
	for _, f := range flows {
		years := f.Date.Sub(t0).Hours() / 24.0 / 365.0
		base := 1.0 + rate
		discount := math.Pow(base, years)
		npv += f.Amount / discount
		derivative += -years * f.Amount / math.Pow(base, years+1)
	}
	return npv, derivative
}
