package tools

import "github.com/alessio/shellescape"

// Quote makes value safe to splice into a sh -c command line. Values made
// only of unambiguous characters are returned untouched.
func Quote(value string) string {
	return shellescape.Quote(value)
}

// JoinCommand renders cmd and args as one quoted command line.
func JoinCommand(cmd string, args ...string) string {
	return shellescape.QuoteCommand(append([]string{cmd}, args...))
}
