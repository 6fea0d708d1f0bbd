package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	Snapshot string
	AssetIn  string
	AssetOut string
	Amount   string
	Exact    string
	FeeBps   uint64
	LogLevel string
}

// LoadQuote merges config file, environment variables, and flags into
// QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("AMMSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("snapshot", "./data/state.json")
	v.SetDefault("exact", "in")
	v.SetDefault("fee-bps", uint64(30))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return QuoteConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return QuoteConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return QuoteConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := QuoteConfig{
		Snapshot: v.GetString("snapshot"),
		AssetIn:  v.GetString("asset-in"),
		AssetOut: v.GetString("asset-out"),
		Amount:   v.GetString("amount"),
		Exact:    v.GetString("exact"),
		FeeBps:   v.GetUint64("fee-bps"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}
