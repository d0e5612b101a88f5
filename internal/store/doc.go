// Package store persists per-device alert state: offline flags, threshold
// cooldowns, statistics counters and the last delivery error.
//
// Values are canonical JSON scalars (bool, float64, string) so that
// compare-and-set compares values rather than representations. Memory keeps
// state in process; SQL stores it in a device_state table on PostgreSQL,
// MySQL or SQL Server.
package store
