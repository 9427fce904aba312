package config

import (
	"testing"
	"time"
)

func TestDefaultRunContext_PerExtension(t *testing.T) {
	rc := DefaultRunContext()

	if rc.PreDownloadWait("png") != 5*time.Second || rc.PreDownloadWait("MAT") != 10*time.Second {
		t.Errorf("pre-download waits: %v / %v", rc.PreDownloadWait("png"), rc.PreDownloadWait("MAT"))
	}
	if rc.BulkRetries("flac") != 3 || rc.BulkRetries("pdf") != 5 {
		t.Errorf("bulk retries: %d / %d", rc.BulkRetries("flac"), rc.BulkRetries("pdf"))
	}
	if rc.FileRetries("wav") != 3 || rc.FileRetries("mat") != 5 {
		t.Errorf("file retries: %d / %d", rc.FileRetries("wav"), rc.FileRetries("mat"))
	}
	if rc.InterFileDelay("png") != 500*time.Millisecond || rc.InterFileDelay("pdf") != 2*time.Second {
		t.Errorf("inter-file delays: %v / %v", rc.InterFileDelay("png"), rc.InterFileDelay("pdf"))
	}
	if rc.FallbackInitialWait("png") != 3*time.Second || rc.FallbackInitialWait("mat") != 5*time.Second {
		t.Errorf("fallback initial waits: %v / %v", rc.FallbackInitialWait("png"), rc.FallbackInitialWait("mat"))
	}
	if rc.FallbackLeadIn("png") != 0 || rc.FallbackLeadIn("pdf") != 15*time.Second {
		t.Errorf("fallback lead-in: %v / %v", rc.FallbackLeadIn("png"), rc.FallbackLeadIn("pdf"))
	}
	if d, ok := rc.ExtraRetryWait("mat"); !ok || d != 10*time.Second {
		t.Errorf("extra retry for mat: %v %v", d, ok)
	}
	if _, ok := rc.ExtraRetryWait("flac"); ok {
		t.Error("flac should not get an extra retry")
	}
	if rc.FallbackRetries() != 12 {
		t.Errorf("fallback retries: %d", rc.FallbackRetries())
	}
}

func TestFallbackPollWait_MatBacksOff(t *testing.T) {
	rc := DefaultRunContext(WithFallback(12, 5*time.Second))
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for attempt, w := range want {
		if got := rc.FallbackPollWait("mat", attempt); got != w {
			t.Errorf("mat attempt %d: got %v want %v", attempt, got, w)
		}
		if got := rc.FallbackPollWait("png", attempt); got != 5*time.Second {
			t.Errorf("png attempt %d: got %v", attempt, got)
		}
	}
}

func TestWithNoDelays(t *testing.T) {
	rc := DefaultRunContext(WithNoDelays())
	if rc.PreDownloadWait("mat") != 0 || rc.InterFileDelay("pdf") != 0 || rc.FallbackPollWait("mat", 3) != 0 {
		t.Error("expected all waits to be zero")
	}
	if rc.FileRetries("mat") != 5 {
		t.Error("retry counts must be preserved")
	}
}

func TestNewRunContext_FromConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Overwrite = true
	cfg.FallbackRetries = 3
	cfg.Timeout = 30 * time.Second

	rc := NewRunContext(cfg, WithListOnly(true))
	if !rc.Overwrite() || !rc.ListOnly() {
		t.Error("options not applied")
	}
	if rc.FallbackRetries() != 3 {
		t.Errorf("fallback retries: %d", rc.FallbackRetries())
	}
	if rc.APITimeout() != 30*time.Second || rc.DownloadTimeout("png") != 30*time.Second {
		t.Errorf("timeouts: %v %v", rc.APITimeout(), rc.DownloadTimeout("png"))
	}
	if rc.DownloadTimeout("mat") != 300*time.Second {
		t.Errorf("slow download timeout: %v", rc.DownloadTimeout("mat"))
	}

	rc = NewRunContext(cfg, WithOverwrite(false))
	if rc.Overwrite() {
		t.Error("flag option should override config")
	}
}
