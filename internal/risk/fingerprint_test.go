// Package risk provides unit tests for device fingerprint derivation
package risk

import (
	"testing"
)

func TestComputeFingerprint(t *testing.T) {
	base := &DeviceSignal{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0",
		ScreenResolution:    "1920x1080",
		Timezone:            "America/New_York",
		Language:            "en-US",
		Platform:            "Win32",
		HardwareConcurrency: 8,
	}

	fp := ComputeFingerprint(base)
	if len(fp) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 (sha256 hex)", len(fp))
	}

	t.Run("deterministic", func(t *testing.T) {
		clone := *base
		if got := ComputeFingerprint(&clone); got != fp {
			t.Error("identical signals should produce identical fingerprints")
		}
	})

	t.Run("browser version bump keeps fingerprint stable", func(t *testing.T) {
		updated := *base
		updated.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/121.0.0.0"
		if got := ComputeFingerprint(&updated); got != fp {
			t.Error("a version-only user agent change should not change the fingerprint")
		}
	})

	t.Run("hardware change changes fingerprint", func(t *testing.T) {
		changed := *base
		changed.ScreenResolution = "2560x1440"
		if got := ComputeFingerprint(&changed); got == fp {
			t.Error("a screen resolution change should change the fingerprint")
		}
	})

	t.Run("canvas hash participates when present", func(t *testing.T) {
		withCanvas := *base
		withCanvas.CanvasHash = "abc123"
		if got := ComputeFingerprint(&withCanvas); got == fp {
			t.Error("adding a canvas hash should change the fingerprint")
		}
	})

	t.Run("nil signal yields empty fingerprint", func(t *testing.T) {
		if got := ComputeFingerprint(nil); got != "" {
			t.Errorf("ComputeFingerprint(nil) = %q, want empty", got)
		}
	})
}

func TestNormalizeUserAgent(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{
			name: "version digits stripped",
			a:    "Chrome/120.0.0.0",
			b:    "Chrome/121.0.6167.85",
			same: true,
		},
		{
			name: "case insensitive",
			a:    "Mozilla/5.0",
			b:    "mozilla/5.0",
			same: true,
		},
		{
			name: "different products differ",
			a:    "Chrome/120.0",
			b:    "Firefox/120.0",
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeUserAgent(tt.a) == normalizeUserAgent(tt.b)
			if got != tt.same {
				t.Errorf("normalizeUserAgent(%q) == normalizeUserAgent(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
			}
		})
	}
}
