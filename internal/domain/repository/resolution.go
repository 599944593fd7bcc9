package repository

import "FinAlloc/internal/domain/models"

// IsValidResolution returns true if r is a supported bar resolution.
func IsValidResolution(r models.Resolution) bool {
	switch r {
	case models.ResolutionDaily, models.ResolutionWeekly:
		return true
	default:
		return false
	}
}

// DefaultResolution returns the default resolution.
func DefaultResolution() models.Resolution { return models.ResolutionDaily }

// NormalizeResolution converts raw string to a valid resolution (or default).
func NormalizeResolution(s string) models.Resolution {
	if s == "" {
		return DefaultResolution()
	}
	r := models.Resolution(s)
	if IsValidResolution(r) {
		return r
	}
	return DefaultResolution()
}
