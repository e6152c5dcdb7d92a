package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Credentials.ApiKey = "key"
	cfg.Credentials.ApiSecret = "secret"
	cfg.Credentials.Passphrase = "pass"
	return cfg
}

func TestValidateAcceptsDefaultsPlusCredentials(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.Credentials.ApiKey = "" }},
		{"missing api secret", func(c *Config) { c.Credentials.ApiSecret = "" }},
		{"missing passphrase", func(c *Config) { c.Credentials.Passphrase = "" }},
		{"missing symbol", func(c *Config) { c.Symbol = "" }},
		{"missing rest base url", func(c *Config) { c.API.RESTBaseURL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected Validate() to fail")
			}
		})
	}
}

func TestValidateRequiresAtLeastOneLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Ladder.Levels = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject an empty ladder")
	}
}

func TestValidateRejectsNonPositiveTickOrStep(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick size", func(c *Config) { c.Ladder.TickSize = decimal.Zero }},
		{"negative tick size", func(c *Config) { c.Ladder.TickSize = decimal.NewFromFloat(-0.01) }},
		{"zero size step", func(c *Config) { c.Ladder.SizeStep = decimal.Zero }},
		{"negative size step", func(c *Config) { c.Ladder.SizeStep = decimal.NewFromFloat(-0.01) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected Validate() to fail")
			}
		})
	}
}

func TestValidateRejectsNonPositiveMaxInventory(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.MaxInventoryBase = decimal.Zero
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject a zero max inventory")
	}
}

func TestValidateRequiresOFIResumeBelowPause(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.OFIResumeThreshold = cfg.Strategy.OFIPauseThreshold
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject resume >= pause threshold")
	}
}

func TestValidateRequiresPositiveMaxCancelAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.Reconciler.MaxCancelAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject a zero max_cancel_attempts")
	}
}

func TestDefaultLevelsShape(t *testing.T) {
	levels := defaultLevels()
	if len(levels) != 25 {
		t.Fatalf("defaultLevels() has %d entries, want 25", len(levels))
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].OffsetBps <= levels[i-1].OffsetBps {
			t.Errorf("level %d offset %v is not strictly greater than level %d offset %v", i, levels[i].OffsetBps, i-1, levels[i-1].OffsetBps)
		}
	}
	// The ten farthest-out levels refresh exactly at their own offset
	// (refresh-matches-offset), per defaultLevels' doc comment.
	for i := 15; i < len(levels); i++ {
		if levels[i].RefreshBps != levels[i].OffsetBps {
			t.Errorf("level %d: RefreshBps %v != OffsetBps %v, expected refresh-matches-offset in the outer band", i, levels[i].RefreshBps, levels[i].OffsetBps)
		}
	}
}
