// Package validation parses raw, string-typed filter parameters.
// Every helper returns a validation AppError naming the parameter and its constraint.
package validation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
)

// MaxKernelSize bounds convolution windows so a typo cannot stall a batch.
const MaxKernelSize = 255

// KernelSize parses a convolution window side length.
// It must be an integer in [1, MaxKernelSize] and odd; even values are rejected, not rounded.
func KernelSize(param, raw string) (int, error) {
	constraint := fmt.Sprintf("must be a positive odd integer no greater than %d", MaxKernelSize)

	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, apperrors.NewValidationError(param, constraint+" (got empty value)", nil)
	}

	k, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperrors.NewValidationError(param, fmt.Sprintf("%s (got %q)", constraint, raw), err)
	}
	if k <= 0 || k > MaxKernelSize {
		return 0, apperrors.NewValidationError(param, fmt.Sprintf("%s (got %d)", constraint, k), nil)
	}
	if k%2 == 0 {
		return 0, apperrors.NewValidationError(param, fmt.Sprintf("%s (got even value %d)", constraint, k), nil)
	}

	return k, nil
}

// PositiveFloat parses a strictly positive, finite float.
// An empty value yields def.
func PositiveFloat(param, raw string, def float64) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(param, fmt.Sprintf("must be a positive number (got %q)", raw), err)
	}
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, apperrors.NewValidationError(param, fmt.Sprintf("must be a positive number (got %v)", v), nil)
	}

	return v, nil
}

// NonEmpty requires a value with at least one non-space character.
func NonEmpty(param, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperrors.NewValidationError(param, "must not be empty", nil)
	}
	return raw, nil
}

// Known rejects parameter names outside the allowed set, so a misspelled
// parameter is reported instead of silently ignored.
func Known(params map[string]string, allowed ...string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}

	var unknown []string
	for k := range params {
		if _, ok := set[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	sort.Strings(unknown)
	expected := "no parameters"
	if len(allowed) > 0 {
		expected = strings.Join(allowed, ", ")
	}

	return apperrors.NewValidationError(
		strings.Join(unknown, ", "),
		fmt.Sprintf("unknown parameter (expected: %s)", expected),
		nil,
	)
}
