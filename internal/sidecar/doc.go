// Package sidecar launches the processes that render resource destruction.
//
// Modes:
// - local: Xvfb display, x11vnc remote display, psdoom renderer
//
// - container: one detached container bound to the control socket
//
// - none: headless control channel
//
// Everything here is best-effort plumbing around opaque external programs;
// a spawn failure aborts startup and stops what was already started.
package sidecar
