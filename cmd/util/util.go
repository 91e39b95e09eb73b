// Package util provides common helpers for the cobra commands in this
// project.
package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// MustBindPFlag binds a viper key to a cobra flag, panicking when the
// binding fails.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// PrepareTempConfigDir points $HOME at a fresh directory holding an empty
// .persondir config dir, so config-file tests cannot be disturbed by the
// environment.
func PrepareTempConfigDir(t *testing.T) string {
	_, err := os.Stat("/etc/persondir/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/persondir/config.yaml would disturb test result.")

	home := t.TempDir()
	t.Setenv("HOME", home)

	confdir := filepath.Join(home, ".persondir")
	require.NoError(t, os.Mkdir(confdir, 0750))

	return confdir
}

// PrepareTempConfigFile writes config into a temp config.yaml discovered by
// the root command.
func PrepareTempConfigFile(t *testing.T, config string) {
	confdir := PrepareTempConfigDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(confdir, "config.yaml"), []byte(config), 0600))
}
