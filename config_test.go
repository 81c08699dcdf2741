package main

import (
	"strings"
	"testing"
	"time"

	"github.com/Seednode/lfg/seek"
)

func validConfig() Config {
	return Config{
		port:           8080,
		seekTimeout:    time.Minute,
		sessionTimeout: time.Hour,
		playerTimeout:  time.Minute,
		natsSubject:    "lfg.chat",
	}
}

func TestConfig_validate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "TLSCertOnly", mutate: func(c *Config) { c.tlsCert = "cert.pem" }, wantErr: "--tls-key"},
		{name: "TLSKeyOnly", mutate: func(c *Config) { c.tlsKey = "key.pem" }, wantErr: "--tls-cert"},
		{name: "PortTooLow", mutate: func(c *Config) { c.port = 0 }, wantErr: "invalid port"},
		{name: "PortTooHigh", mutate: func(c *Config) { c.port = 65536 }, wantErr: "invalid port"},
		{name: "ZeroSeekTimeout", mutate: func(c *Config) { c.seekTimeout = 0 }, wantErr: "seek timeout"},
		{name: "NegativeSeekTimeout", mutate: func(c *Config) { c.seekTimeout = -time.Second }, wantErr: "seek timeout"},
		{name: "NegativeSessionTimeout", mutate: func(c *Config) { c.sessionTimeout = -time.Second }, wantErr: "session timeout"},
		{name: "ZeroSessionTimeout", mutate: func(c *Config) { c.sessionTimeout = 0 }},
		{name: "NegativePlayerTimeout", mutate: func(c *Config) { c.playerTimeout = -time.Second }, wantErr: "player timeout"},
		{name: "EmptySubject", mutate: func(c *Config) { c.natsSubject = " " }, wantErr: "--nats-subject"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestConfig_scheme(t *testing.T) {
	cfg := validConfig()
	if got := cfg.scheme(); got != "http" {
		t.Errorf("scheme = %q, want http", got)
	}

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	if got := cfg.scheme(); got != "https" {
		t.Errorf("scheme = %q, want https", got)
	}
}

func TestNewCmd_Defaults(t *testing.T) {
	cfg := &Config{}
	newCmd(cfg)

	if cfg.seekTimeout != seek.DefaultTimeout {
		t.Errorf("seekTimeout = %s, want %s", cfg.seekTimeout, seek.DefaultTimeout)
	}
	if !cfg.allowSolo {
		t.Error("allowSolo = false, want true")
	}
	if cfg.natsSubject != "lfg.chat" {
		t.Errorf("natsSubject = %q, want %q", cfg.natsSubject, "lfg.chat")
	}
	if cfg.natsURL != "" {
		t.Errorf("natsURL = %q, want empty", cfg.natsURL)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestNewCmd_Environment(t *testing.T) {
	t.Setenv("LFG_SEEK_TIMEOUT", "30s")
	t.Setenv("LFG_ALLOW_SOLO", "false")
	t.Setenv("LFG_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("LFG_PORT", "9090")

	cfg := &Config{}
	newCmd(cfg)

	if cfg.seekTimeout != 30*time.Second {
		t.Errorf("seekTimeout = %s, want 30s", cfg.seekTimeout)
	}
	if cfg.allowSolo {
		t.Error("allowSolo = true, want false")
	}
	if cfg.natsURL != "nats://127.0.0.1:4222" {
		t.Errorf("natsURL = %q", cfg.natsURL)
	}
	if cfg.port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.port)
	}
}
