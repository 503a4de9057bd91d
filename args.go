package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Args are command line arguments.
type Args struct {
	ConfigFile string

	// LogLevel overrides the config file's log-level when set.
	LogLevel string
}

func getArgs(name string, argv []string, usage io.Writer) (Args, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(usage)

	configFile := flags.String("config", "", "Configuration file.")
	logLevel := flags.String("log-level", "",
		"Log level: debug, info, warn, error. Overrides the config file.")

	if err := flags.Parse(argv); err != nil {
		return Args{}, err
	}

	if len(*configFile) == 0 {
		flags.PrintDefaults()
		return Args{}, fmt.Errorf("you must provide a configuration file")
	}

	configPath, err := filepath.Abs(*configFile)
	if err != nil {
		return Args{}, errors.Wrapf(err,
			"unable to determine absolute path to config file: %s", *configFile)
	}

	return Args{ConfigFile: configPath, LogLevel: *logLevel}, nil
}
