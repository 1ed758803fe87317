package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/mapdb/cmd/util"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key (only the key for sets)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withStore(func(ctx context.Context, _ *cobra.Command, args []string) error {
			key := args[0]
			if isSet() {
				existed, err := strSet.Insert(ctx, key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, existed=%t\n", key, existed)
				return nil
			}

			if len(args) != 2 {
				return fmt.Errorf("put requires a key and a value")
			}
			prev, existed, err := strMap.Insert(ctx, key, args[1])
			if err != nil {
				return err
			}
			if existed {
				fmt.Printf("key=%s, replaced=%s\n", key, prev)
			} else {
				fmt.Println("put successfully")
			}
			return nil
		}),
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, _ *cobra.Command, args []string) error {
			key := args[0]
			if isSet() {
				found, err := strSet.Contains(ctx, key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%t\n", key, found)
				return nil
			}

			resp, ok, err := strMap.Get(ctx, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, resp=%s\n", key, ok, resp)
			return nil
		}),
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, _ *cobra.Command, args []string) error {
			key := args[0]
			var (
				existed bool
				err     error
			)
			if isSet() {
				existed, err = strSet.Remove(ctx, key)
			} else {
				_, existed, err = strMap.Remove(ctx, key)
			}
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", key, existed)
			return nil
		}),
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, _ *cobra.Command, args []string) error {
			key := args[0]
			var (
				found bool
				err   error
			)
			if isSet() {
				found, err = strSet.Contains(ctx, key)
			} else {
				found, err = strMap.Contains(ctx, key)
			}
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		}),
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Prints all entries of the map (in no particular order)",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, _ *cobra.Command, _ []string) error {
			limit := viper.GetInt("limit")
			n := 0

			if isSet() {
				it := strSet.Iter(ctx)
				for k := range it.Keys() {
					if limit > 0 && n >= limit {
						break
					}
					fmt.Println(k)
					n++
				}
				return it.Err()
			}

			it := strMap.Iter(ctx)
			for k, v := range it.All() {
				if limit > 0 && n >= limit {
					break
				}
				fmt.Printf("%s=%s\n", k, v)
				n++
			}
			return it.Err()
		}),
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes every entry of the map",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, _ *cobra.Command, _ []string) error {
			var (
				n   int
				err error
			)
			if isSet() {
				n, err = strSet.Clear(ctx)
			} else {
				n, err = strMap.Clear(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d entries\n", n)
			return nil
		}),
	}
	mapsCmd = &cobra.Command{
		Use:   "maps",
		Short: "Lists all maps of the database",
		Args:  cobra.NoArgs,
		RunE: withDB(func(_ context.Context, _ *cobra.Command, _ []string) error {
			for _, m := range database.Maps() {
				fmt.Printf("%-20s %8d entries  %s -> %s\n", m.Name, m.Len, m.KeyTag, m.ValueTag)
			}
			return nil
		}),
	}
	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Snapshots all changed maps and removes the covered log segments",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ *cobra.Command, _ []string) error {
			res, err := database.Compact(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %d snapshots, removed %d segments (%d bytes) in %s\n",
				res.Snapshots, res.RemovedSegments, res.RemovedBytes, res.Duration)
			return nil
		}),
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints sizes, sequence numbers and files of the database",
		Args:  cobra.NoArgs,
		RunE: withDB(func(_ context.Context, _ *cobra.Command, _ []string) error {
			if viper.GetBool("metrics") {
				database.WriteMetrics(os.Stdout)
				return nil
			}

			info := database.Info()
			if viper.GetBool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Print(info.String())
			if viper.GetBool("verbose") {
				fmt.Print(database.Options().String())
			}
			return nil
		}),
	}
)

func init() {
	key := "limit"
	scanCmd.Flags().Int(key, 0, util.WrapString("Maximum number of entries to print (0 = all)"))

	key = "json"
	infoCmd.Flags().Bool(key, false, util.WrapString("Print the info as JSON"))
	key = "metrics"
	infoCmd.Flags().Bool(key, false, util.WrapString("Print the metrics in Prometheus text format"))
	key = "verbose"
	infoCmd.Flags().Bool(key, false, util.WrapString("Also print the options the database was opened with"))
}
