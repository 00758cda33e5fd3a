package cost

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const bytesPerGiB = 1 << 30

// Divisors that bring a binary-prefixed amount to gibibytes.
var binaryUnits = []struct {
	suffix string
	factor float64
}{
	{"Ki", 1.0 / 1048576},
	{"Mi", 1.0 / 1024},
	{"Gi", 1},
	{"Ti", 1024},
}

// ParseCPU converts a CPU quantity to fractional cores. A trailing "m" means
// millicores, anything else is read as a core count.
func ParseCPU(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, ok := strings.CutSuffix(s, "m"); ok {
		n, err := parseNumber(v)
		if err != nil {
			return 0, fmt.Errorf("cpu quantity %q: %w", s, err)
		}
		return n / 1000, nil
	}
	n, err := parseNumber(s)
	if err != nil {
		return 0, fmt.Errorf("cpu quantity %q: %w", s, err)
	}
	return n, nil
}

// ParseGiB converts a memory or storage quantity to gibibytes. Ki, Mi, Gi and
// Ti suffixes are honoured; a bare number is a byte count.
func ParseGiB(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, u := range binaryUnits {
		if v, ok := strings.CutSuffix(s, u.suffix); ok {
			n, err := parseNumber(v)
			if err != nil {
				return 0, fmt.Errorf("quantity %q: %w", s, err)
			}
			return n * u.factor, nil
		}
	}
	n, err := parseNumber(s)
	if err != nil {
		return 0, fmt.Errorf("quantity %q: %w", s, err)
	}
	return n / bytesPerGiB, nil
}

// CPUCores is ParseCPU with unparseable input counted as zero.
func CPUCores(s string) float64 {
	n, err := ParseCPU(s)
	if err != nil {
		log.Info("unparseable quantity counted as zero", "error", err.Error())
		return 0
	}
	return n
}

// GiB is ParseGiB with unparseable input counted as zero.
func GiB(s string) float64 {
	n, err := ParseGiB(s)
	if err != nil {
		log.Info("unparseable quantity counted as zero", "error", err.Error())
		return 0
	}
	return n
}

func parseNumber(s string) (float64, error) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return n, nil
}
