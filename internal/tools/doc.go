// Package tools provides reusable runtime helpers shared by tfdoom modules.
//
// Ownership boundary:
// - shell command execution (capturing and detached)
//
// - child process group lifecycle
package tools
