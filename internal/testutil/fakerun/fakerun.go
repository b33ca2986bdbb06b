// Package fakerun provides a scripted tools.CommandRunner for tests.
package fakerun

import (
	"context"
	"strings"
	"sync"

	"github.com/danmuck/tfdoom/internal/tools"
)

// Reply scripts the outcome for commands containing Match.
type Reply struct {
	Match  string
	Result tools.Result
	Err    error
}

// Runner records every command and answers with the first matching Reply.
// Unmatched commands succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	replies  []Reply
	captured []string
	detached []string

	// DetachErr, when set, fails RunDetached for commands containing the key.
	DetachErr map[string]error
	// Gate, when non-nil, blocks RunCapturing until it is closed.
	Gate chan struct{}
}

func New(replies ...Reply) *Runner {
	return &Runner{replies: replies}
}

func (r *Runner) RunCapturing(ctx context.Context, command string) (tools.Result, error) {
	r.mu.Lock()
	r.captured = append(r.captured, command)
	gate := r.Gate
	var reply *Reply
	for i := range r.replies {
		if strings.Contains(command, r.replies[i].Match) {
			reply = &r.replies[i]
			break
		}
	}
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return tools.Result{ExitCode: -1}, ctx.Err()
		}
	}
	if reply == nil {
		return tools.Result{}, nil
	}
	return reply.Result, reply.Err
}

func (r *Runner) RunDetached(command string) (*tools.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, err := range r.DetachErr {
		if strings.Contains(command, key) {
			return nil, err
		}
	}
	r.detached = append(r.detached, command)
	return tools.NewShellRunner().RunDetached("sleep 60")
}

// Captured returns the synchronous commands seen so far.
func (r *Runner) Captured() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.captured))
	copy(out, r.captured)
	return out
}

// Detached returns the detached commands seen so far.
func (r *Runner) Detached() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.detached))
	copy(out, r.detached)
	return out
}

// Count returns how many synchronous commands contained substr.
func (r *Runner) Count(substr string) int {
	n := 0
	for _, c := range r.Captured() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}
