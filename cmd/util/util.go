package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/mapdb/lib/db"
	"github.com/ValentinKolb/mapdb/lib/events"
	"github.com/ValentinKolb/mapdb/lib/logging"
	"github.com/ValentinKolb/mapdb/lib/persistence"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupDBFlags adds the database flags to a command
func SetupDBFlags(cmd *cobra.Command) {
	key := "path"
	cmd.PersistentFlags().String(key, "data", WrapString("The database directory"))

	key = "map"
	cmd.PersistentFlags().String(key, "default", WrapString("The name of the map to operate on"))

	key = "set"
	cmd.PersistentFlags().Bool(key, false, WrapString("Treat the map as a set of strings instead of a string to string map"))

	key = "shards"
	cmd.PersistentFlags().Int(key, 64, WrapString("Number of shards of the in-memory index"))

	key = "compression"
	cmd.PersistentFlags().String(key, "none", WrapString("Compression of snapshot files (none, zstd, lz4)"))

	key = "memory-limit"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Upper bound of the in-memory footprint in MB (0 = unlimited)"))

	key = "create"
	cmd.PersistentFlags().Bool(key, true, WrapString("Create the database directory if it does not exist"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	cmd.PersistentFlags().String(key, "text", WrapString("The log format: text for plain log lines, color for structured (colored on terminals) output"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("mapdb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetEventSink creates the log output configured by log-level and log-format
func GetEventSink() (events.Sink, error) {
	level := viper.GetString("log-level")

	switch format := viper.GetString("log-format"); format {
	case "text":
		logging.SetOutput(os.Stderr)
		if err := logging.InitLoggers(level); err != nil {
			return nil, err
		}
		return logging.NewLoggerSink(logger.GetLogger(logging.LoggerDB)), nil
	case "color":
		lvl, err := logging.ParseSlogLevel(level)
		if err != nil {
			return nil, err
		}
		return logging.NewSlogSink(logging.NewConsoleLogger(os.Stderr, lvl)), nil
	default:
		return nil, fmt.Errorf("invalid log format %s", format)
	}
}

// GetOptions reads the database options from viper
func GetOptions() (*db.Options, error) {
	compression, err := persistence.ParseCompression(viper.GetString("compression"))
	if err != nil {
		return nil, err
	}
	sink, err := GetEventSink()
	if err != nil {
		return nil, err
	}

	opts := db.DefaultOptions()
	opts.CreateIfMissing = viper.GetBool("create")
	opts.NumShards = viper.GetInt("shards")
	opts.MemoryLimit = viper.GetInt64("memory-limit") << 20
	opts.SnapshotCompression = compression
	opts.EventSink = sink
	return opts, nil
}

// OpenDB opens the database configured by the path flag
func OpenDB() (*db.DB, error) {
	opts, err := GetOptions()
	if err != nil {
		return nil, err
	}
	return db.Open(viper.GetString("path"), opts)
}
