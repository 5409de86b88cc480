// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package configs_test

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/ampify/configs"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	return writeFileAs(t, "config.yaml", content)
}

func writeFileAs(t *testing.T, name, content string) string {
	t.Helper()
	name = filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(name, []byte(content), 0o600))
	return name
}

func TestDefaults(t *testing.T) {
	assert := require.New(t)
	configs.Reset()

	assert.Equal(slog.LevelInfo, configs.Config.LogLevel)
	assert.Equal(int64(6), configs.Config.Concurrency)
	assert.True(configs.Config.Transform.Round)
	assert.Equal("responsive", configs.Config.Transform.Layout)
	assert.Equal(20*time.Second, configs.Config.Fetcher.Timeout)
	assert.Empty(configs.Config.Fetcher.DeniedIPs)
	assert.NoError(configs.Validate())
}

func TestLoadFile(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()

		name := writeFile(t, `
log_level: debug
concurrency: 2
transform:
  cwd: /srv/site
  round: false
  layout: fixed
  ignore_image_not_found: true
  xml_mode: true
  decode_entities: true
fetcher:
  timeout: 5s
  user_agent: ampify/1.0
  denied_ips:
    - 127.0.0.0/8
    - ::1
`)
		assert.NoError(configs.LoadFile(name))

		assert.Equal(slog.LevelDebug, configs.Config.LogLevel)
		assert.Equal(int64(2), configs.Config.Concurrency)
		assert.Equal("/srv/site", configs.Config.Transform.CWD)
		assert.False(configs.Config.Transform.Round)
		assert.Equal("fixed", configs.Config.Transform.Layout)
		assert.True(configs.Config.Transform.IgnoreImageNotFound)
		assert.True(configs.Config.Transform.XMLMode)
		assert.True(configs.Config.Transform.DecodeEntities)
		assert.Equal(5*time.Second, configs.Config.Fetcher.Timeout)
		assert.Equal("ampify/1.0", configs.Config.Fetcher.UserAgent)

		assert.Len(configs.Config.Fetcher.DeniedIPs, 2)
		assert.Equal("127.0.0.0/8", configs.Config.Fetcher.DeniedIPs[0].String())
		assert.Equal("::1/128", configs.Config.Fetcher.DeniedIPs[1].String())
	})

	t.Run("toml", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()

		name := writeFileAs(t, "config.toml", `
log_level = "debug"
concurrency = 2

[transform]
cwd = "/srv/site"
round = false
strip_important = true
xml_mode = true

[fetcher]
timeout = "5s"
denied_ips = ["127.0.0.0/8", "::1"]
`)
		assert.NoError(configs.LoadFile(name))

		assert.Equal(slog.LevelDebug, configs.Config.LogLevel)
		assert.Equal(int64(2), configs.Config.Concurrency)
		assert.Equal("/srv/site", configs.Config.Transform.CWD)
		assert.False(configs.Config.Transform.Round)
		assert.Equal("responsive", configs.Config.Transform.Layout)
		assert.True(configs.Config.Transform.StripImportant)
		assert.True(configs.Config.Transform.XMLMode)
		assert.False(configs.Config.Transform.DecodeEntities)
		assert.Equal(5*time.Second, configs.Config.Fetcher.Timeout)

		assert.Len(configs.Config.Fetcher.DeniedIPs, 2)
		assert.Equal("::1/128", configs.Config.Fetcher.DeniedIPs[1].String())
	})

	t.Run("toml errors", func(t *testing.T) {
		for _, content := range []string{
			"[transform]\ncolour = \"red\"\n",
			"[fetcher]\nproxy = \"http://proxy.test\"\n",
			"[fetcher]\ntimeout = \"soon\"\n",
			"[fetcher]\ndenied_ips = \"10.0.0.0/33\"\n",
		} {
			t.Run(content, func(t *testing.T) {
				assert := require.New(t)
				configs.Reset()
				defer configs.Reset()

				assert.Error(configs.LoadFile(writeFileAs(t, "config.toml", content)))
			})
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()

		name := writeFile(t, "transform:\n  colour: red\n")
		assert.Error(configs.LoadFile(name))
	})

	t.Run("invalid cidr", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()

		name := writeFile(t, "fetcher:\n  denied_ips: [10.0.0.0/33]\n")
		assert.Error(configs.LoadFile(name))
	})

	t.Run("missing", func(t *testing.T) {
		assert := require.New(t)
		assert.ErrorIs(configs.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")), os.ErrNotExist)
	})
}

func TestLoadEnv(t *testing.T) {
	assert := require.New(t)
	configs.Reset()
	defer configs.Reset()

	t.Setenv("AMPIFY_LOG_LEVEL", "warn")
	t.Setenv("AMPIFY_CONCURRENCY", "3")
	t.Setenv("AMPIFY_TRANSFORM_ROUND", "false")
	t.Setenv("AMPIFY_TRANSFORM_STRIP_IMPORTANT", "true")
	t.Setenv("AMPIFY_TRANSFORM_XML_MODE", "true")
	t.Setenv("AMPIFY_TRANSFORM_DECODE_ENTITIES", "true")
	t.Setenv("AMPIFY_FETCHER_TIMEOUT", "1m")
	t.Setenv("AMPIFY_FETCHER_DENIED_IPS", "192.168.0.0/16, 10.1.2.3")

	assert.NoError(configs.LoadEnv())

	assert.Equal(slog.LevelWarn, configs.Config.LogLevel)
	assert.Equal(int64(3), configs.Config.Concurrency)
	assert.False(configs.Config.Transform.Round)
	assert.True(configs.Config.Transform.StripImportant)
	assert.True(configs.Config.Transform.XMLMode)
	assert.True(configs.Config.Transform.DecodeEntities)
	assert.Equal("responsive", configs.Config.Transform.Layout)
	assert.Equal(time.Minute, configs.Config.Fetcher.Timeout)

	n, ok := configs.Config.Fetcher.DeniedIPs.Contains(net.ParseIP("192.168.1.10"))
	assert.True(ok)
	assert.Equal("192.168.0.0/16", n.String())

	n, ok = configs.Config.Fetcher.DeniedIPs.Contains(net.ParseIP("10.1.2.3"))
	assert.True(ok)
	assert.Equal("10.1.2.3/32", n.String())

	_, ok = configs.Config.Fetcher.DeniedIPs.Contains(net.ParseIP("10.1.2.4"))
	assert.False(ok)
}

func TestValidate(t *testing.T) {
	assert := require.New(t)
	configs.Reset()
	defer configs.Reset()

	configs.Config.Concurrency = 0
	configs.Config.Fetcher.Timeout = -1
	err := configs.Validate()
	assert.ErrorContains(err, "concurrency must be at least 1")
	assert.ErrorContains(err, "timeout cannot be negative")
}
