package kv

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/mapdb/cmd/util"
	"github.com/ValentinKolb/mapdb/lib/db"
)

var (
	database *db.DB
	strMap   *db.TypedMap[string, string]
	strSet   *db.Set[string]

	// Commands are the database commands, registered on the root command
	Commands = []*cobra.Command{
		putCmd,
		getCmd,
		delCmd,
		hasCmd,
		scanCmd,
		clearCmd,
		mapsCmd,
		compactCmd,
		infoCmd,
		perfTestCmd,
	}
)

// withStore opens the database and the map named by the map flag for the
// duration of run
func withStore(run func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}

		database, err = util.OpenDB()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, database.Close())
		}()

		name := viper.GetString("map")
		if viper.GetBool("set") {
			strSet, err = db.OpenSet[string](database, name)
		} else {
			strMap, err = db.OpenMap[string, string](database, name)
		}
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return run(ctx, cmd, args)
	}
}

// withDB opens the database without opening a map
func withDB(run func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}

		database, err = util.OpenDB()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, database.Close())
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return run(ctx, cmd, args)
	}
}

func isSet() bool {
	return strSet != nil && viper.GetBool("set")
}
