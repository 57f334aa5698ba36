package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SalieeriW/twokeys-backend/internal/puzzle"
)

type Config struct {
	Bind            string
	Port            int
	StartDelay      time.Duration
	SyncWindow      time.Duration
	RetryDelay      time.Duration
	AdvanceDelay    time.Duration
	FinalLevel      int
	OrchestratorURL string
	Verbose         bool
}

// Load reads configuration from TWOKEYS_* environment variables with sane
// defaults. Flags bound by the command layer override both.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TWOKEYS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("start-delay", 5*time.Second)
	v.SetDefault("sync-window", 10*time.Second)
	v.SetDefault("retry-delay", 3*time.Second)
	v.SetDefault("advance-delay", 5*time.Second)
	v.SetDefault("final-level", puzzle.Count())
	v.SetDefault("orchestrator-url", "")
	v.SetDefault("verbose", false)

	cfg := &Config{
		Bind:            v.GetString("bind"),
		Port:            v.GetInt("port"),
		StartDelay:      v.GetDuration("start-delay"),
		SyncWindow:      v.GetDuration("sync-window"),
		RetryDelay:      v.GetDuration("retry-delay"),
		AdvanceDelay:    v.GetDuration("advance-delay"),
		FinalLevel:      v.GetInt("final-level"),
		OrchestratorURL: v.GetString("orchestrator-url"),
		Verbose:         v.GetBool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.StartDelay <= 0 || c.SyncWindow <= 0 || c.RetryDelay <= 0 || c.AdvanceDelay <= 0 {
		return fmt.Errorf("all delays must be positive")
	}
	if c.FinalLevel < 1 || c.FinalLevel > puzzle.Count() {
		return fmt.Errorf("final-level must be between 1 and %d: %d", puzzle.Count(), c.FinalLevel)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}
