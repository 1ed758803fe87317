package util

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/mapdb/lib/persistence"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "", WrapString(""))
}

func TestGetOptions(t *testing.T) {
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupDBFlags(cmd)
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--shards=8", "--compression=zstd", "--memory-limit=2"}))
	require.NoError(t, viper.BindPFlags(cmd.PersistentFlags()))

	opts, err := GetOptions()
	require.NoError(t, err)
	assert.Equal(t, 8, opts.NumShards)
	assert.Equal(t, persistence.CompressionZstd, opts.SnapshotCompression)
	assert.Equal(t, int64(2<<20), opts.MemoryLimit)
	assert.True(t, opts.CreateIfMissing)

	viper.Set("compression", "brotli")
	_, err = GetOptions()
	assert.Error(t, err)

	viper.Set("compression", "none")
	viper.Set("log-format", "xml")
	_, err = GetOptions()
	assert.Error(t, err)
}
