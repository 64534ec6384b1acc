package trends

import (
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"shamai/engine/internal/aggregate"
	"shamai/engine/internal/models"
)

// Trends holds the percentage price change across the three trailing
// comparison windows. Nil means the window had no comparison data, which
// callers must keep distinct from a computed zero.
type Trends struct {
	Change1Month  *float64 `json:"change_1_month"`
	Change3Months *float64 `json:"change_3_months"`
	Change1Year   *float64 `json:"change_1_year"`
}

// AggregateFunc recomputes (or fetches the recorded) aggregate for a
// comparison period.
type AggregateFunc func(period models.Period) (aggregate.Aggregation, error)

// Calculator compares the current period's aggregate against windows of the
// same length ending 1, 3 and 12 months before the period start.
type Calculator struct {
	logger *logrus.Logger
}

func NewCalculator(logger *logrus.Logger) *Calculator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Calculator{logger: logger}
}

// Compute derives the three trend percentages for the current aggregate.
// The fetch callback supplies past aggregates; an empty past aggregate
// leaves the corresponding percentage unset rather than zero.
func (c *Calculator) Compute(current aggregate.Aggregation, fetch AggregateFunc) (Trends, error) {
	var out Trends
	if current.Empty() {
		return out, nil
	}

	windows := []struct {
		months int
		target **float64
	}{
		{1, &out.Change1Month},
		{3, &out.Change3Months},
		{12, &out.Change1Year},
	}

	length := current.Period.End.Sub(current.Period.Start)
	for _, w := range windows {
		end := current.Period.Start.AddDate(0, -w.months, 0)
		past, err := fetch(models.Period{Start: end.Add(-length), End: end})
		if err != nil {
			return Trends{}, fmt.Errorf("failed to aggregate %d-month comparison window: %w", w.months, err)
		}
		if past.Empty() || past.MedianPrice == 0 {
			continue
		}
		pct := Round2((current.MedianPrice - past.MedianPrice) / past.MedianPrice * 100)
		*w.target = &pct
	}
	return out, nil
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
