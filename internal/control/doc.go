// Package control owns the local control channel.
//
// Ownership boundary:
// - unix socket bind and accept loop
//
// - instruction parsing and dispatch
//
// - per-connection failure isolation
//
// Wire protocol, one instruction per connection:
//
//	list\n           -> one resource id per line, then write half-close
//	kill <id>\n      -> no reply
//	anything else    -> close, no reply
package control
