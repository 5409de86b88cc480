// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package app contains the ampify command line application.
package app

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/cristalhq/acmd"

	"codeberg.org/readeck/ampify/configs"
)

// version is set at build time.
var version = "dev"

var commands = []acmd.Command{}

type appFlags struct {
	ConfigFile string
	LogLevel   string
}

// Flags returns a new FlagSet with the common flags.
func (f *appFlags) Flags() *flag.FlagSet {
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.StringVar(&f.ConfigFile, "config", "", "configuration file path")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	return fs
}

// appPreRun loads the configuration and sets up the logger.
func appPreRun(flags *appFlags) error {
	configs.Reset()

	if flags.ConfigFile != "" {
		if err := configs.LoadFile(flags.ConfigFile); err != nil {
			return err
		}
	}
	if err := configs.LoadEnv(); err != nil {
		return err
	}
	if flags.LogLevel != "" {
		if err := configs.Config.LogLevel.UnmarshalText([]byte(flags.LogLevel)); err != nil {
			return err
		}
	}
	if err := configs.Validate(); err != nil {
		return err
	}

	slog.SetDefault(newLogger(os.Stderr, configs.Config.LogLevel))
	return nil
}

// Run starts the application.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := acmd.RunnerOf(commands, acmd.Config{
		AppName:        "ampify",
		AppDescription: "Convert HTML documents to AMP",
		Version:        version,
		Context:        ctx,
	})

	if err := r.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err) //nolint:errcheck
		return err
	}
	return nil
}
