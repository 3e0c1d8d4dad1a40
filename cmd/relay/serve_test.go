package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/relay/internal/config"
)

const sampleConfig = `
[auth]
jwt_secret = "cmd-secret"
jwt_expires_in = "2h"

[history]
max_messages = 50

[[users]]
name = "alice"
highlights = ["deploy"]

[[users.push]]
id = "phone"
endpoint = "https://push.example.org/notify"
token = "t"

[[users.networks]]
name = "libera"
host = "irc.libera.chat"
nick = "alice"
channels = ["#go"]

[[users]]
name = "bob"

[[users.networks]]
host = "irc.oftc.net"
nick = "bob"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
	return path
}

func TestResolveConfigPath(t *testing.T) {
	old := configPath
	t.Cleanup(func() { configPath = old })

	configPath = ""
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, config.DefaultConfigPath, resolveConfigPath())

	t.Setenv("CONFIG_PATH", "/etc/relay.toml")
	assert.Equal(t, "/etc/relay.toml", resolveConfigPath())

	configPath = "flag.toml"
	assert.Equal(t, "flag.toml", resolveConfigPath())
}

func TestProvideNetworksAndDestinations(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	networks := provideNetworks(cfg)
	require.Len(t, networks, 2)
	assert.Equal(t, "alice", networks[0].Owner())
	assert.Equal(t, "libera", networks[0].Name())
	assert.NotNil(t, networks[0].Find("#go"))
	assert.True(t, networks[0].Highlights("time to deploy"))
	assert.Equal(t, "bob", networks[1].Owner())
	assert.Equal(t, "irc.oftc.net", networks[1].Name())

	dests := provideDestinations(cfg)
	require.Len(t, dests.Destinations("alice"), 1)
	assert.Equal(t, "https://push.example.org/notify", dests.Destinations("alice")[0].Endpoint)
	assert.Empty(t, dests.Destinations("bob"))
}

func TestTokenCommand(t *testing.T) {
	old := configPath
	t.Cleanup(func() {
		configPath = old
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	path := writeConfig(t)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"token", "--config", path, "--user", "alice"})
	require.NoError(t, rootCmd.Execute())

	raw := strings.TrimSpace(out.String())
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return []byte("cmd-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "alice", claims["user_id"])
	assert.Contains(t, errOut.String(), "expires at")

	rootCmd.SetArgs([]string{"token", "--config", path, "--user", "carol"})
	err = rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
