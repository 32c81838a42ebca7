package validator

import (
	"strings"
	"unicode"
)

const (
	maxOrderStyleTokenLen = 64
	maxTesterTokenLen     = 140
	minTesterHeadLen      = 20
	maxTesterHeadLen      = 24
	minTesterTailLen      = 4
	// real Play purchase tokens are well above this length
	shortTokenLen = 120
)

var sandboxTokenPrefixes = []string{"test", "sandbox", "fake"}

// IsSandboxToken classifies Play purchase tokens issued to licensed testers.
// aggressive adds length and prefix rules meant for non-production deployments.
func IsSandboxToken(token string, aggressive bool) bool {
	t := strings.TrimSpace(token)
	if t == "" {
		return false
	}
	if strings.HasPrefix(t, "GPA.") && len(t) <= maxOrderStyleTokenLen {
		return true
	}
	if isLicensedTesterShape(t) {
		return true
	}
	if !aggressive {
		return false
	}
	if len(t) < shortTokenLen {
		return true
	}
	lower := strings.ToLower(t)
	for _, p := range sandboxTokenPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// looksLikeShortTestToken backs up IsSandboxToken when the publisher API denies access.
func looksLikeShortTestToken(token string) bool {
	t := strings.TrimSpace(token)
	return strings.HasPrefix(t, "GPA.") || len(t) < shortTokenLen
}

// isLicensedTesterShape matches "<20-24 lowercase letters>.<mixed-case tail>" up to 140 chars.
func isLicensedTesterShape(t string) bool {
	if len(t) > maxTesterTokenLen || strings.Count(t, ".") != 1 {
		return false
	}
	head, tail, _ := strings.Cut(t, ".")
	if len(head) < minTesterHeadLen || len(head) > maxTesterHeadLen || len(tail) < minTesterTailLen {
		return false
	}
	for _, r := range head {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	hasUpper := false
	for _, r := range tail {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z', unicode.IsDigit(r), r == '-', r == '_':
		default:
			return false
		}
	}
	return hasUpper
}
