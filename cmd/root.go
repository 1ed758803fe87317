package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ValentinKolb/mapdb/cmd/kv"
	"github.com/ValentinKolb/mapdb/cmd/util"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mapdb",
		Short: "persistent typed key-value maps",
		Long: fmt.Sprintf(`mapdb (v%s)

An embedded, disk backed store of named key-value maps written in Go.
Every write is fsynced to a checksummed log before it is acknowledged,
the log is compacted into snapshots in the background.

All flags can also be set via environment variables in the form
MAPDB_<flag> (e.g. MAPDB_LOG_LEVEL=debug) or in a .env file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mapdb",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mapdb v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.Commands...)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupDBFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
