// Copyright 2026 Weftworks
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package config loads runtime configuration from file, environment, and
// defaults, in that priority order.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the base name of the config file (weft.yaml).
const DefaultConfigFileName = "weft"

// Config holds all runtime configuration.
// Priority: config file > env vars (WEFT_*) > defaults.
type Config struct {
	Bus        BusConfig        `mapstructure:"bus"`
	Blackboard BlackboardConfig `mapstructure:"blackboard"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// BusConfig bounds the message bus.
type BusConfig struct {
	// MaxQueueSize caps each agent inbox; a full inbox refuses delivery.
	MaxQueueSize int `mapstructure:"max_queue_size"`

	// LogLimit bounds the bus message log; older entries are evicted.
	LogLimit int `mapstructure:"log_limit"`

	// RequestTimeoutSeconds is the default wait for request/response.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// BlackboardConfig bounds the shared blackboard.
type BlackboardConfig struct {
	// HistoryLimit bounds the write-history ring.
	HistoryLimit int `mapstructure:"history_limit"`
}

// WorkflowConfig tunes workflow execution.
type WorkflowConfig struct {
	// DefaultTimeoutSeconds bounds a run started from the CLI; 0 disables.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`
}

// LoggingConfig selects log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// Load reads configuration. With an explicit path the file must exist;
// otherwise weft.yaml is searched in the current directory and /etc/weft/,
// and a missing file falls back to env vars and defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/weft/")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("WEFT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.max_queue_size", 1000)
	v.SetDefault("bus.log_limit", 1000)
	v.SetDefault("bus.request_timeout_seconds", 30)

	v.SetDefault("blackboard.history_limit", 100)

	v.SetDefault("workflow.default_timeout_seconds", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}
