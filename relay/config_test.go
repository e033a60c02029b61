package relay

import "testing"

func TestConfigValidateDefaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate, got: %v", err)
	}
}

func TestConfigValidateRejectsInvertedRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PortRangeStart, cfg.PortRangeEnd = cfg.PortRangeEnd, cfg.PortRangeStart
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for inverted port range")
	}
}

func TestConfigValidateRejectsListenPortCollision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenPort = cfg.PortRangeStart
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when listen port collides with server range")
	}
}

func TestConfigValidateRejectsZeroMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive max connections")
	}
}

func TestConfigValidateRejectsZeroListenPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenPort = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero listen port")
	}
}
