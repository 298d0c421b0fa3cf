// Package risk provides device fingerprint derivation
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const fingerprintSalt = "riskgate-device-fingerprint"

var uaVersionPattern = regexp.MustCompile(`[\d.]+`)

// ComputeFingerprint derives a stable SHA-256 fingerprint from normalized
// device attributes. Minor version bumps in the user agent do not change
// the fingerprint.
func ComputeFingerprint(sig *DeviceSignal) string {
	if sig == nil {
		return ""
	}

	parts := []string{
		normalizeUserAgent(sig.UserAgent),
		strings.TrimSpace(sig.ScreenResolution),
		strings.TrimSpace(sig.Timezone),
		strings.ToLower(strings.TrimSpace(sig.Language)),
		strings.TrimSpace(sig.Platform),
		fmt.Sprintf("%d", sig.HardwareConcurrency),
	}

	if sig.CanvasHash != "" {
		parts = append(parts, sig.CanvasHash)
	}
	if sig.WebGLHash != "" {
		parts = append(parts, sig.WebGLHash)
	}
	if sig.AudioHash != "" {
		parts = append(parts, sig.AudioHash)
	}

	parts = append(parts, fingerprintSalt)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// normalizeUserAgent strips version numbers so browser updates keep the
// fingerprint stable
func normalizeUserAgent(ua string) string {
	return uaVersionPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(ua)), "")
}
