// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
)

const (
	generatedCLIFlagUsage = "generated"
	envVarPrefix          = "LIVEKIT_SESSION"
)

var (
	ErrInvalidDuration  = errors.New("durations must not be negative")
	ErrInvalidSize      = errors.New("sizes must not be negative")
	ErrInvalidBandwidth = errors.New("simulated bitrate must be positive")
	ErrInvalidTick      = errors.New("simulation tick interval must be positive")

	durationType = reflect.TypeOf(time.Duration(0))
)

type Config struct {
	Development bool             `yaml:"development,omitempty"`
	LogLevel    string           `yaml:"log_level,omitempty"`
	Logging     LoggingConfig    `yaml:"logging,omitempty"`
	Session     SessionConfig    `yaml:"session,omitempty"`
	Prometheus  PrometheusConfig `yaml:"prometheus,omitempty"`
	EventFeed   EventFeedConfig  `yaml:"event_feed,omitempty"`
	Simulation  SimulationConfig `yaml:"simulation,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

type SessionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout,omitempty"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout,omitempty"`
	// default bitrate sampling interval
	StatsInterval     time.Duration `yaml:"stats_interval,omitempty"`
	StatsFetchTimeout time.Duration `yaml:"stats_fetch_timeout,omitempty"`
	// number of past events kept for listeners registered with replay, 0 disables
	EventHistorySize int `yaml:"event_history_size,omitempty"`
	// participants whose early track updates are held until they join
	DeferredUpdatesSize    int           `yaml:"deferred_updates_size,omitempty"`
	HintDimensionsDebounce time.Duration `yaml:"hint_dimensions_debounce,omitempty"`
	HintTimeout            time.Duration `yaml:"hint_timeout,omitempty"`
}

type PrometheusConfig struct {
	Port       uint32 `yaml:"port,omitempty"`
	ClientName string `yaml:"client_name,omitempty"`
}

type EventFeedConfig struct {
	Port         uint32        `yaml:"port,omitempty"`
	BindAddress  string        `yaml:"bind_address,omitempty"`
	MaxClients   int           `yaml:"max_clients,omitempty"`
	SendBuffer   int           `yaml:"send_buffer,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// SimulationConfig drives the loopback transport used by sessionctl.
type SimulationConfig struct {
	Room                 string        `yaml:"room,omitempty"`
	Identity             string        `yaml:"identity,omitempty"`
	Token                string        `yaml:"token,omitempty"`
	RemoteParticipants   int           `yaml:"remote_participants,omitempty"`
	Duration             time.Duration `yaml:"duration,omitempty"`
	TickInterval         time.Duration `yaml:"tick_interval,omitempty"`
	BytesPerSecond       uint64        `yaml:"bytes_per_second,omitempty"`
	ReconnectProbability float64       `yaml:"reconnect_probability,omitempty"`
	SupportsReplacement  bool          `yaml:"supports_replacement,omitempty"`
}

var DefaultConfig = Config{
	Logging: LoggingConfig{
		Config: logger.Config{
			JSON:  false,
			Level: "info",
		},
	},
	Session: SessionConfig{
		ConnectTimeout:         10 * time.Second,
		DisconnectTimeout:      5 * time.Second,
		StatsInterval:          time.Second,
		StatsFetchTimeout:      time.Second,
		EventHistorySize:       100,
		DeferredUpdatesSize:    100,
		HintDimensionsDebounce: 200 * time.Millisecond,
		HintTimeout:            5 * time.Second,
	},
	Prometheus: PrometheusConfig{
		ClientName: "livekit-session",
	},
	EventFeed: EventFeedConfig{
		BindAddress:  "127.0.0.1",
		MaxClients:   16,
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
	},
	Simulation: SimulationConfig{
		Room:                 "simulated-room",
		Identity:             "sessionctl",
		Token:                "simulated",
		RemoteParticipants:   3,
		Duration:             10 * time.Second,
		TickInterval:         250 * time.Millisecond,
		BytesPerSecond:       64_000,
		ReconnectProbability: 0.02,
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("could not validate config: %v", err)
	}

	if conf.LogLevel != "" {
		conf.Logging.Level = conf.LogLevel
	}
	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	s := conf.Session
	for _, d := range []time.Duration{
		s.ConnectTimeout,
		s.DisconnectTimeout,
		s.StatsInterval,
		s.StatsFetchTimeout,
		s.HintDimensionsDebounce,
		s.HintTimeout,
		conf.EventFeed.WriteTimeout,
		conf.Simulation.Duration,
		conf.Simulation.TickInterval,
	} {
		if d < 0 {
			return ErrInvalidDuration
		}
	}
	if s.EventHistorySize < 0 || s.DeferredUpdatesSize < 0 || conf.EventFeed.MaxClients < 0 || conf.EventFeed.SendBuffer < 0 {
		return ErrInvalidSize
	}
	if conf.Simulation.RemoteParticipants < 0 {
		return ErrInvalidSize
	}
	if conf.Simulation.BytesPerSecond == 0 {
		return ErrInvalidBandwidth
	}
	if conf.Simulation.TickInterval <= 0 {
		return ErrInvalidTick
	}
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

// EnvVarName is the environment variable backing a generated flag.
func EnvVarName(flagName string) string {
	return fmt.Sprintf("%s_%s", envVarPrefix, strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(flagName)))
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVars := []string{EnvVarName(name)}

		if value.Type() == durationType {
			flags = append(flags, &cli.DurationFlag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			})
			continue
		}

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: envVars,
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice, reflect.Map, reflect.Struct:
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		if configValue.Type() == durationType {
			configValue.SetInt(int64(c.Duration(flagName)))
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("prometheus-port") {
		conf.Prometheus.Port = uint32(c.Uint("prometheus-port"))
	}
	if c.IsSet("feed-port") {
		conf.EventFeed.Port = uint32(c.Uint("feed-port"))
	}
	return nil
}

// Note: only pass in logr.Logger with default depth
func SetLogger(l logger.Logger) {
	logger.SetLogger(l, "livekit")
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(&config.Config, "livekit")
}
