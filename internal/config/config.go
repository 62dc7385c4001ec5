package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/phanxgames/curtain"
	"github.com/spf13/viper"
)

// Config holds demo configuration.
type Config struct {
	Registry   string           `mapstructure:"registry"`
	Debug      bool             `mapstructure:"debug"`
	Log        LogConfig        `mapstructure:"log"`
	Transition TransitionConfig `mapstructure:"transition"`
	Window     WindowConfig     `mapstructure:"window"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TransitionConfig is the transition applied to screens whose prefab does
// not declare one.
type TransitionConfig struct {
	Kind     string  `mapstructure:"kind"`
	Duration float64 `mapstructure:"duration"`
	Ease     string  `mapstructure:"ease"`
}

// WindowConfig holds window settings.
type WindowConfig struct {
	Title  string `mapstructure:"title"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

// Load reads configuration from file and env. The file is CURTAIN_CONFIG if
// set, else ./curtain.toml when present. Env var overrides use prefix
// CURTAIN_ (for example CURTAIN_WINDOW_WIDTH).
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("registry", "screens.yaml")
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("transition.kind", "fade")
	v.SetDefault("transition.duration", 0.25)
	v.SetDefault("transition.ease", "outQuad")
	v.SetDefault("window.title", "curtain")
	v.SetDefault("window.width", 800)
	v.SetDefault("window.height", 600)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("CURTAIN_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("curtain")
	}

	v.SetEnvPrefix("CURTAIN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Registry) == "" {
		return errors.New("config: registry is empty")
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("config: window size %dx%d is invalid", c.Window.Width, c.Window.Height)
	}
	if c.Transition.Duration < 0 {
		return fmt.Errorf("config: transition duration %v is negative", c.Transition.Duration)
	}
	return nil
}

// Spec returns the transition as a declarative spec. An empty kind means no
// default transition.
func (t TransitionConfig) Spec() *curtain.TransitionSpec {
	if t.Kind == "" || t.Kind == "none" {
		return nil
	}
	return &curtain.TransitionSpec{
		Kind:     t.Kind,
		Duration: float32(t.Duration),
		Ease:     t.Ease,
	}
}
