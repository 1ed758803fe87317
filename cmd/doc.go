// Package cmd implements the command-line interface of mapdb. It opens a
// database directory, runs one operation on it and closes it again.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for map operations (put, get, del, has, scan, clear), for
//     database maintenance (maps, compact, info) and a benchmark (perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mapdb -help for a list of all commands.
package cmd
