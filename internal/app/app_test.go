// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/ampify/configs"
	"codeberg.org/readeck/ampify/pkg/ampify"
	. "codeberg.org/readeck/ampify/pkg/ampify/testing" //revive:disable:dot-imports
)

func TestTransformFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()

		var flags transformFlags
		fs := flags.Flags()
		assert.NoError(fs.Parse([]string{"/srv/site/index.html"}))

		cfg := flags.transformConfig(fs, fs.Arg(0))
		assert.Equal(ampify.Config{
			CWD:    "/srv/site",
			Round:  true,
			Layout: "responsive",
		}, cfg)
	})

	t.Run("overrides", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()
		configs.Config.Transform.StripImportant = true
		configs.Config.Transform.CWD = "/var/www"
		configs.Config.Transform.DecodeEntities = true

		var flags transformFlags
		fs := flags.Flags()
		assert.NoError(fs.Parse([]string{
			"-no-round", "-layout", "fixed", "-ignore-image-not-found", "-xml-mode", "-o", "out.html",
		}))

		cfg := flags.transformConfig(fs, "")
		assert.Equal(ampify.Config{
			CWD:                 "/var/www",
			Round:               false,
			Layout:              "fixed",
			IgnoreImageNotFound: true,
			XMLMode:             true,
			DecodeEntities:      true,
			StripImportant:      true,
		}, cfg)
		assert.Equal("out.html", flags.output)
	})

	t.Run("flags over config", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()
		configs.Config.Transform.XMLMode = true
		configs.Config.Transform.DecodeEntities = true

		var flags transformFlags
		fs := flags.Flags()
		assert.NoError(fs.Parse([]string{"-xml-mode=false", "-decode-entities=false", "page.html"}))

		cfg := flags.transformConfig(fs, fs.Arg(0))
		assert.False(cfg.XMLMode)
		assert.False(cfg.DecodeEntities)
		assert.Equal(".", cfg.CWD)
	})
}

func TestTransformFile(t *testing.T) {
	tmpDir := t.TempDir()
	WriteImage(filepath.Join(tmpDir, "photo.png"), 99, 51)

	input := filepath.Join(tmpDir, "index.html")
	require.NoError(t, os.WriteFile(input, []byte(
		`<html><head><link rel="stylesheet" href="missing.css"></head>`+
			`<body><img src="photo.png"><audio src="a.mp3"></audio></body></html>`,
	), 0o600))

	newTransformer := func() *ampify.Transformer {
		return ampify.New(
			ampify.WithCWD(tmpDir),
			ampify.WithLogger(slog.New(slog.DiscardHandler)),
		)
	}

	expected := `<html amp=""><head></head><body>` +
		`<amp-img src="photo.png" width="100" height="50" layout="responsive"></amp-img>` +
		`<amp-audio src="a.mp3" width="300" height="59"></amp-audio></body></html>`

	t.Run("file to stdout", func(t *testing.T) {
		assert := require.New(t)
		stdout := new(bytes.Buffer)

		err := transformFile(context.Background(), newTransformer(), input, "", nil, stdout)
		assert.NoError(err)
		assert.Equal(expected, stdout.String())
	})

	t.Run("stdin to file", func(t *testing.T) {
		assert := require.New(t)
		src, err := os.ReadFile(input)
		assert.NoError(err)

		output := filepath.Join(tmpDir, "out.html")
		err = transformFile(context.Background(), newTransformer(), "", output, bytes.NewReader(src), nil)
		assert.NoError(err)

		data, err := os.ReadFile(output)
		assert.NoError(err)
		assert.Equal(expected, string(data))
	})

	t.Run("failure", func(t *testing.T) {
		assert := require.New(t)
		output := filepath.Join(tmpDir, "failed.html")

		err := transformFile(context.Background(), newTransformer(), "",
			output, strings.NewReader(`<img src="bogus.png">`), nil)
		assert.NoError(err)

		assert.NoError(os.WriteFile(filepath.Join(tmpDir, "bogus.png"), []byte("nope"), 0o600))
		assert.NoError(os.Remove(output))

		err = transformFile(context.Background(), newTransformer(), "",
			output, strings.NewReader(`<img src="bogus.png">`), nil)
		assert.ErrorIs(err, ampify.ErrImageDecode)
		assert.NoFileExists(output)
	})

	t.Run("xml mode", func(t *testing.T) {
		assert := require.New(t)
		logs := new(bytes.Buffer)
		tr := ampify.New(
			ampify.WithConfig(ampify.Config{
				CWD:     tmpDir,
				Round:   true,
				Layout:  "responsive",
				XMLMode: true,
			}),
			ampify.WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
		)

		stdout := new(bytes.Buffer)
		err := transformFile(context.Background(), tr, input, "", nil, stdout)
		assert.NoError(err)
		assert.Equal(expected, stdout.String())
		assert.Contains(logs.String(), "xml mode is not supported")
	})

	t.Run("missing input", func(t *testing.T) {
		assert := require.New(t)
		err := transformFile(context.Background(), newTransformer(),
			filepath.Join(tmpDir, "nope.html"), "", nil, new(bytes.Buffer))
		assert.ErrorIs(err, os.ErrNotExist)
	})
}
