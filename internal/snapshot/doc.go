// Package snapshot fetches the device inventory from the WyBot cloud
// HTTP API.
//
// Login posts md5-hashed credentials and captures the session token
// and user id; the inventory fetch returns the account's groups
// indexed by group id. Snapshot never returns an error to its caller:
// failures are logged and yield an empty map, so the coordinator
// keeps serving its last good state.
package snapshot
