// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"time"

	"github.com/spf13/viper"
)

// config is the one place this binary reads ambient configuration from
// — the library itself (package rowcache) takes an explicit
// rdb.Options, never global config; viper is scoped entirely to this
// runnable example.
type config struct {
	DatabasePath   string        `mapstructure:"database_path"`
	StatementTTL   time.Duration `mapstructure:"statement_ttl"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
	LogFile        string        `mapstructure:"log_file"`
	OrphanCapacity int           `mapstructure:"orphan_capacity"`
}

func loadConfig() (config, error) {
	v := viper.New()
	v.SetConfigName("rowcachedemo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("ROWCACHEDEMO")
	v.AutomaticEnv()

	v.SetDefault("database_path", "rowcachedemo.db")
	v.SetDefault("statement_ttl", 5*time.Minute)
	v.SetDefault("busy_timeout", 5*time.Second)
	v.SetDefault("orphan_capacity", 256)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return config{}, err
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}
