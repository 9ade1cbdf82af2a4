package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-session/pkg/config"
	"github.com/livekit/livekit-session/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"LIVEKIT_SESSION_CONFIG"},
	},
	&cli.UintFlag{
		Name:    "prometheus-port",
		Usage:   "serve prometheus metrics on this port, disabled when 0",
		EnvVars: []string{"LIVEKIT_SESSION_PROMETHEUS_PORT"},
	},
	&cli.UintFlag{
		Name:    "feed-port",
		Usage:   "serve the session event feed over websocket on this port, disabled when 0",
		EnvVars: []string{"LIVEKIT_SESSION_FEED_PORT"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatter",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "sessionctl",
		Usage:       "Drive a media session against a simulated room",
		Description: "run without subcommands to start a simulation",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      simulate,
		Commands: []*cli.Command{
			{
				Name:   "simulate",
				Usage:  "connects to a simulated room and prints a summary of the tracks seen",
				Action: simulate,
			},
			{
				Name:   "print-config",
				Usage:  "prints the effective configuration as YAML",
				Action: printConfig,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if conf.Development {
		logger.Infow("starting in development mode")
	}
	return conf, nil
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	path, err := homedir.Expand(os.ExpandEnv(configFile))
	if err != nil {
		return "", err
	}

	outConfigBody, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
