package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.SilenceTimeoutMS != 5000 {
		t.Fatalf("expected default silence timeout, got %d", cfg.Session.SilenceTimeoutMS)
	}
	if got := cfg.Session.LanguageCodes(); len(got) != 3 || got[0] != "en" {
		t.Fatalf("unexpected language codes: %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SALIN_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SALIN_BUS_USERNAME", "alice")
	t.Setenv("SALIN_BUS_PASSWORD", "secret")
	t.Setenv("SALIN_SESSION_SILENCE_TIMEOUT_MS", "2500")
	t.Setenv("SALIN_SESSION_FALLBACK_LANGUAGE", "tl")
	t.Setenv("SALIN_CAPTURE_FRAME_DURATION_MS", "40")
	t.Setenv("SALIN_PHRASE_CACHE_MODE", "ephemeral")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Session.SilenceTimeoutMS != 2500 {
		t.Fatalf("expected silence timeout override, got %d", cfg.Session.SilenceTimeoutMS)
	}
	if cfg.Session.FallbackLanguage != "tl" {
		t.Fatalf("expected fallback language override, got %s", cfg.Session.FallbackLanguage)
	}
	if cfg.Capture.FrameDurationMS != 40 {
		t.Fatalf("expected frame duration override, got %d", cfg.Capture.FrameDurationMS)
	}
	if cfg.PhraseCache.Mode != "ephemeral" {
		t.Fatalf("expected phrase cache mode override, got %s", cfg.PhraseCache.Mode)
	}
}

func TestValidateRejectsAutoLanguage(t *testing.T) {
	cfg := Default()
	cfg.Session.Languages = append(cfg.Session.Languages, Language{Code: "auto", Name: "Auto"})
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for auto pseudo-code")
	}
}

func TestValidateFallbackMustBeConfigured(t *testing.T) {
	cfg := Default()
	cfg.Session.FallbackLanguage = "fr"
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown fallback language")
	}
}

func TestLanguageName(t *testing.T) {
	cfg := Default()
	if got := cfg.Session.LanguageName("ko"); got != "Korean" {
		t.Fatalf("expected Korean, got %s", got)
	}
	if got := cfg.Session.LanguageName("xx"); got != "xx" {
		t.Fatalf("expected code passthrough, got %s", got)
	}
}
