// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package app

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cristalhq/acmd"

	"codeberg.org/readeck/ampify/configs"
	"codeberg.org/readeck/ampify/internal/httpclient"
	"codeberg.org/readeck/ampify/pkg/ampify"
)

func init() {
	commands = append(commands, acmd.Command{
		Name:        "transform",
		Description: "Convert an HTML document to AMP",
		ExecFunc:    runTransform,
	})
}

type transformFlags struct {
	appFlags
	output              string
	cwd                 string
	layout              string
	noRound             bool
	ignoreImageNotFound bool
	normalizeWhitespace bool
	xmlMode             bool
	decodeEntities      bool
	stripImportant      bool
}

func (f *transformFlags) Flags() *flag.FlagSet {
	fs := f.appFlags.Flags()
	fs.StringVar(&f.output, "o", "", "output file (default: standard output)")
	fs.StringVar(&f.cwd, "cwd", "", "base directory of local resources (default: input file directory)")
	fs.StringVar(&f.layout, "layout", "", "image layout (default: responsive)")
	fs.BoolVar(&f.noRound, "no-round", false, "do not round image dimensions")
	fs.BoolVar(&f.ignoreImageNotFound, "ignore-image-not-found", false, "remove images that were not found")
	fs.BoolVar(&f.normalizeWhitespace, "normalize-whitespace", false, "collapse whitespace in text")
	fs.BoolVar(&f.xmlMode, "xml-mode", false, "parse the input as XML (not supported, logs a warning)")
	fs.BoolVar(&f.decodeEntities, "decode-entities", false, "decode HTML entities (always done)")
	fs.BoolVar(&f.stripImportant, "strip-important", false, "remove !important from stylesheets")
	return fs
}

// transformConfig merges the configuration and the command line flags.
func (f *transformFlags) transformConfig(fs *flag.FlagSet, input string) ampify.Config {
	c := configs.Config.Transform
	cfg := ampify.Config{
		CWD:                 c.CWD,
		Round:               c.Round,
		Layout:              c.Layout,
		IgnoreImageNotFound: c.IgnoreImageNotFound,
		NormalizeWhitespace: c.NormalizeWhitespace,
		XMLMode:             c.XMLMode,
		DecodeEntities:      c.DecodeEntities,
		StripImportant:      c.StripImportant,
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "cwd":
			cfg.CWD = f.cwd
		case "layout":
			cfg.Layout = f.layout
		case "no-round":
			cfg.Round = !f.noRound
		case "ignore-image-not-found":
			cfg.IgnoreImageNotFound = f.ignoreImageNotFound
		case "normalize-whitespace":
			cfg.NormalizeWhitespace = f.normalizeWhitespace
		case "xml-mode":
			cfg.XMLMode = f.xmlMode
		case "decode-entities":
			cfg.DecodeEntities = f.decodeEntities
		case "strip-important":
			cfg.StripImportant = f.stripImportant
		}
	})

	if cfg.CWD == "" && input != "" {
		cfg.CWD = filepath.Dir(input)
	}
	return cfg
}

func runTransform(ctx context.Context, args []string) error {
	var flags transformFlags
	fs := flags.Flags()
	// nolint: errcheck
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: transform [arguments...] [FILE]")
		fmt.Fprintln(fs.Output(), "  FILE")
		fmt.Fprintln(fs.Output(), "    \tHTML input file (default: standard input)")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := appPreRun(&flags.appFlags); err != nil {
		return err
	}

	input := strings.TrimSpace(fs.Arg(0))
	if input == "-" {
		input = ""
	}

	t := ampify.New(
		ampify.WithConfig(flags.transformConfig(fs, input)),
		ampify.WithFetcher(httpclient.New()),
		ampify.WithLogger(slog.Default()),
		ampify.WithConcurrency(configs.Config.Concurrency),
	)

	return transformFile(ctx, t, input, flags.output, os.Stdin, os.Stdout)
}

// transformFile reads input (or stdin when empty) and writes the result
// to output (or stdout when empty). The output file is only created when
// the transformation succeeds.
func transformFile(ctx context.Context, t *ampify.Transformer, input, output string, stdin io.Reader, stdout io.Writer) error {
	var r io.Reader = stdin
	if input != "" {
		fd, err := os.Open(input)
		if err != nil {
			return err
		}
		defer fd.Close() //nolint:errcheck
		r = fd
	}

	buf := new(bytes.Buffer)
	if err := t.Transform(ctx, r, buf); err != nil {
		return err
	}

	if output == "" {
		_, err := io.Copy(stdout, buf)
		return err
	}

	slog.Debug("writing document", slog.String("path", output), slog.Int("size", buf.Len()))
	return os.WriteFile(output, buf.Bytes(), 0o644) //nolint:gosec
}
