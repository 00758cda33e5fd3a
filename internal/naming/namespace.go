package naming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Prefix is prepended to every derived namespace.
const Prefix = "tenant-"

// MaxLength is the longest namespace name the platform accepts (DNS-1123 label).
const MaxLength = validation.DNS1123LabelMaxLength

var ErrInvalidNamespace = errors.New("invalid namespace name")

// DeriveNamespace builds a cluster-safe namespace name from a tenant display
// name and a distinguishing suffix. The display name is lower-cased, every
// character outside [a-z0-9] becomes a hyphen, hyphen runs are collapsed and
// the base is truncated so that the suffix always survives.
//
// DeriveNamespace does not guarantee uniqueness on its own: callers must
// retry with a new suffix when the record store reports a collision.
func DeriveNamespace(displayName, suffix string) (string, error) {
	suffix = sanitize(suffix)
	if suffix == "" {
		return "", fmt.Errorf("%w: empty suffix", ErrInvalidNamespace)
	}

	// Room left for the sanitized display name between prefix and suffix.
	room := MaxLength - len(Prefix) - len(suffix) - 1
	if room < 0 {
		return "", fmt.Errorf("%w: suffix %q too long", ErrInvalidNamespace, suffix)
	}

	base := sanitize(displayName)
	if len(base) > room {
		base = strings.TrimRight(base[:room], "-")
	}

	var name string
	if base == "" {
		name = Prefix + suffix
	} else {
		name = Prefix + base + "-" + suffix
	}

	if err := Validate(name); err != nil {
		return "", err
	}
	return name, nil
}

// Suffix returns the distinguishing suffix for a creation instant. Attempt
// numbers above zero are appended so that retries within the same
// millisecond still produce a new name.
func Suffix(at time.Time, attempt int) string {
	s := strconv.FormatInt(at.UnixMilli(), 10)
	if attempt > 0 {
		s += "-" + strconv.Itoa(attempt)
	}
	return s
}

// Validate checks that name is usable as a namespace.
func Validate(name string) error {
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidNamespace, name, strings.Join(errs, "; "))
	}
	return nil
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	hyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen {
			b.WriteByte('-')
			hyphen = true
		}
	}

	return strings.Trim(b.String(), "-")
}
