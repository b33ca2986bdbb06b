// Package doom owns the tfdoom process lifecycle.
//
// Lifecycle order:
// - configure -> base command -> bind control socket -> launch sidecars -> serve
//
// - a bind or launch failure aborts startup before anything is served.
//
// - shutdown stops the accept loop first, then the sidecars.
//
// The session id is generated once per process and names the sidecar
// container; it is never reused across runs.
package doom
