package flowwork_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/flowwork"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := flowwork.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*flowwork.Config)
	}{
		{"zero concurrency", func(c *flowwork.Config) { c.Concurrency = 0 }},
		{"zero poll interval", func(c *flowwork.Config) { c.PollInterval = 0 }},
		{"zero lease", func(c *flowwork.Config) { c.LeaseDuration = 0 }},
		{"negative tick timeout", func(c *flowwork.Config) { c.TickTimeout = -time.Second }},
		{"lease shorter than tick", func(c *flowwork.Config) {
			c.TickTimeout = time.Minute
			c.LeaseDuration = time.Minute
		}},
		{"negative tick rate", func(c *flowwork.Config) { c.TickRate = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := flowwork.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, flowwork.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := flowwork.DefaultConfig()
	cfg.TickTimeout = 0
	cfg.LeaseDuration = time.Second
	if err := cfg.Validate(); err != nil {
		t.Errorf("no tick timeout should allow any lease: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := flowwork.LoadConfig(strings.NewReader(`
concurrency: 4
poll_interval: 250ms
tick_rate: 2.5
tick_burst: 5
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := flowwork.DefaultConfig()
	want.Concurrency = 4
	want.PollInterval = 250 * time.Millisecond
	want.TickRate = 2.5
	want.TickBurst = 5
	if cfg != want {
		t.Errorf("LoadConfig = %+v, want %+v", cfg, want)
	}
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := flowwork.LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != flowwork.DefaultConfig() {
		t.Errorf("empty input should yield defaults, got %+v", cfg)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": "workers: 3\n",
		"bad duration":  "poll_interval: soon\n",
		"invalid value": "concurrency: 0\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := flowwork.LoadConfig(strings.NewReader(doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
