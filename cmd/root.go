// Package cmd implements the persondir command line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreEngineConf = "datastore.engine"
	datastoreURIFlag    = "datastore-uri"
	datastoreURIConf    = "datastore.uri"
)

// NewRootCommand returns the bare persondir root command. Settings for the
// subcommands resolve from CLI flags first, then PERSONDIR-prefixed
// environment variables, then a config.yaml next to the binary, in /etc or
// in the home directory.
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("PERSONDIR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("/etc/persondir")
	viper.AddConfigPath("$HOME/.persondir")
	viper.AddConfigPath(".")

	// Config files nest the datastore settings (datastore.engine) while the
	// flags bind dashed keys (datastore-engine). Copy the file values over
	// once read so both spellings resolve to the same setting.
	viper.SetDefault(datastoreEngineFlag, "")
	viper.SetDefault(datastoreURIFlag, "")
	if err := viper.ReadInConfig(); err == nil {
		viper.SetDefault(datastoreEngineFlag, viper.Get(datastoreEngineConf))
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "persondir",
		Short: "A person-attribute resolution service that aggregates identity attributes across directories, databases and web services",
		Long: `A person-attribute resolution service that aggregates identity attributes across directories, databases and web services.

persondir resolves the attributes of a person from any number of configured
sources, merges them with a configurable strategy, and serves them over an
HTTP JSON API or a one-shot command line query.`,
	}
}
