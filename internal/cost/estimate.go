package cost

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// HoursPerMonth is the fixed billing month used for hourly rates. The
// reporting period does not scale it.
const HoursPerMonth = 24 * 30

// Pricing holds the process-wide rates. It is read-only once an Engine is
// built.
type Pricing struct {
	CPUPerCoreHour     float64 `toml:"cpu-per-core-hour" json:"cpuPerCoreHour"`
	MemoryPerGiBHour   float64 `toml:"memory-per-gib-hour" json:"memoryPerGiBHour"`
	StoragePerGiBMonth float64 `toml:"storage-per-gib-month" json:"storagePerGiBMonth"`
}

func (p Pricing) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"cpu-per-core-hour":     p.CPUPerCoreHour,
		"memory-per-gib-hour":   p.MemoryPerGiBHour,
		"storage-per-gib-month": p.StoragePerGiBMonth,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("price %s must be a non-negative number, got %v", name, v))
		}
	}
	return errors.Join(errs...)
}

// Period is the reporting window attached to an estimate.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// Estimate is a monthly cost, in the pricing currency, rounded to cents.
type Estimate struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Storage float64 `json:"storage"`
	Total   float64 `json:"total"`
	Period  Period  `json:"period"`
}

// EstimateCost prices a usage snapshot. Rounding happens once, on the final
// amounts; the total is summed from unrounded parts.
func EstimateCost(s Snapshot, p Pricing, period Period) Estimate {
	cpu := s.CPUCores * p.CPUPerCoreHour * HoursPerMonth
	memory := s.MemoryGiB * p.MemoryPerGiBHour * HoursPerMonth
	storage := s.StorageGiB * p.StoragePerGiBMonth

	return Estimate{
		CPU:     roundCents(cpu),
		Memory:  roundCents(memory),
		Storage: roundCents(storage),
		Total:   roundCents(cpu + memory + storage),
		Period:  period,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
