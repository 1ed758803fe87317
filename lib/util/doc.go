// Package util provides small helpers shared by the mapdb packages.
//
// The package contains:
//   - functions: seed generation and the seeded FNV-1a hash used for shard selection
//   - statistics: summary statistics, shard distribution quality and a lock-free
//     size histogram used to report entry size estimates without full scans
package util
