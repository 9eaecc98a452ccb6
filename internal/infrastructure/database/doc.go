// Package database provides the SQLite connection used for the DP
// change log. It owns pragmas, pooling, and schema migration.
package database
