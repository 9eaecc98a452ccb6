// Package history persists merged DP changes to SQLite and serves
// recent-change queries for the REST API.
package history
