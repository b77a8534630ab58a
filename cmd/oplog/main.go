// cmd/oplog: command-line tool for building, signing and submitting
// operator log records.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/operatorlog/pkg/client"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultServerURL = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds the state shared by all subcommands.
type cli struct {
	v         *viper.Viper
	cfgFile   string
	serverURL string
}

func newRootCmd() *cobra.Command {
	app := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "oplog",
		Short: "Operator log CLI",
		Long: `oplog builds, signs and submits operator log records.

Records are written as draft JSON or YAML files, encoded canonically and
signed locally with a key created by 'oplog keygen'. Only 'append' and
'head' talk to an operatord server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.cfgFile != "" {
				app.v.SetConfigFile(app.cfgFile)
			} else {
				home, _ := os.UserHomeDir()
				app.v.AddConfigPath(filepath.Join(home, ".oplog"))
				app.v.SetConfigName("config")
				app.v.SetConfigType("yaml")
			}
			app.v.SetEnvPrefix("oplog")
			app.v.AutomaticEnv()
			_ = app.v.ReadInConfig()

			if app.serverURL == "" {
				app.serverURL = app.v.GetString("server_url")
			}
			if app.serverURL == "" {
				app.serverURL = defaultServerURL
			}
		},
	}

	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default ~/.oplog/config.yaml)")
	root.PersistentFlags().StringVar(&app.serverURL, "server", "", "operatord URL (default "+defaultServerURL+")")

	root.AddCommand(
		app.keygenCmd(),
		app.encodeCmd(),
		app.signCmd(),
		app.decodeCmd(),
		app.appendCmd(),
		app.headCmd(),
		app.logIDCmd(),
		app.versionCmd(),
	)
	return root
}

func (a *cli) client() (*client.Client, error) {
	return client.New(a.serverURL, client.WithUserAgent("oplog/"+version))
}

// ── version ──────────────────────────────────────────────────────────────────

func (a *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the oplog version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oplog %s\n", version)
		},
	}
}
