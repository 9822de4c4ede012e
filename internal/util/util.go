// Package util holds small shared helpers.
package util

import "strings"

// MaskSecret obscures a credential for logging, showing only the first and
// last few characters.
func MaskSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	switch {
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	case len(secret) > 4:
		return secret[:2] + "..." + secret[len(secret)-2:]
	case len(secret) > 2:
		return secret[:1] + "..." + secret[len(secret)-1:]
	}
	return secret
}
