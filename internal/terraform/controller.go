package terraform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danmuck/tfdoom/internal/observability"
	"github.com/danmuck/tfdoom/internal/tools"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmptyResourceID = errors.New("terraform: empty resource identifier")
	ErrDestroyFailed   = errors.New("terraform: destroy failed")
)

// ListOutcome tags how a listing attempt ended.
type ListOutcome string

const (
	ListOK            ListOutcome = "ok"
	ListBackendFailed ListOutcome = "backend_failed"
	ListSpawnFailed   ListOutcome = "spawn_failed"
)

// Listing is the result of one state list call. Resources is empty whenever
// Outcome is not ListOK.
type Listing struct {
	Outcome   ListOutcome
	Resources []string
	ExitCode  int
	Stderr    string
	Err       error
}

func (l Listing) Failed() bool {
	return l.Outcome != ListOK
}

// Controller issues terraform invocations on top of one BaseCommand.
type Controller struct {
	base    BaseCommand
	runner  tools.CommandRunner
	destroy singleflight.Group
}

func NewController(base BaseCommand, runner tools.CommandRunner) *Controller {
	return &Controller{base: base, runner: runner}
}

// ListResources runs `state list` and returns the non-empty lines in backend order.
func (c *Controller) ListResources(ctx context.Context) Listing {
	command := c.base.With("state", "list")
	start := time.Now()

	res, err := c.runner.RunCapturing(ctx, command)
	if err != nil {
		observability.RecordBackendCall("state_list", string(ListSpawnFailed), time.Since(start))
		log.Warn().Err(err).Str("command", command).Msg("terraform.Controller.ListResources spawn failed")
		return Listing{Outcome: ListSpawnFailed, Resources: []string{}, ExitCode: res.ExitCode, Err: err}
	}
	if res.ExitCode != 0 {
		observability.RecordBackendCall("state_list", string(ListBackendFailed), time.Since(start))
		stderr := tail(res.Stderr)
		log.Warn().
			Int("exit_code", res.ExitCode).
			Str("stderr", stderr).
			Msg("terraform.Controller.ListResources backend failed")
		return Listing{
			Outcome:   ListBackendFailed,
			Resources: []string{},
			ExitCode:  res.ExitCode,
			Stderr:    stderr,
			Err:       fmt.Errorf("terraform: state list exited with code %d", res.ExitCode),
		}
	}

	resources := ParseResourceList(res.Stdout)
	observability.RecordBackendCall("state_list", string(ListOK), time.Since(start))
	log.Debug().Int("resources", len(resources)).Msg("terraform.Controller.ListResources ok")
	return Listing{Outcome: ListOK, Resources: resources}
}

// DestroyResource runs a targeted, auto-approved destroy and waits for it.
// Concurrent calls for the same id share one backend invocation.
func (c *Controller) DestroyResource(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyResourceID
	}
	_, err, shared := c.destroy.Do(id, func() (any, error) {
		return nil, c.runDestroy(ctx, id)
	})
	if shared {
		log.Debug().Str("resource", id).Msg("terraform.Controller.DestroyResource joined in-flight destroy")
	}
	return err
}

func (c *Controller) runDestroy(ctx context.Context, id string) error {
	command := c.base.With("destroy", "-auto-approve", "-target", tools.Quote(id))
	start := time.Now()
	log.Info().Str("resource", id).Msg("terraform.Controller.DestroyResource start")

	res, err := c.runner.RunCapturing(ctx, command)
	if err != nil {
		observability.RecordBackendCall("destroy", "spawn_failed", time.Since(start))
		return fmt.Errorf("%w: resource=%q: %v", ErrDestroyFailed, id, err)
	}
	if res.ExitCode != 0 {
		observability.RecordBackendCall("destroy", "backend_failed", time.Since(start))
		return fmt.Errorf("%w: resource=%q exit_code=%d stderr=%q", ErrDestroyFailed, id, res.ExitCode, tail(res.Stderr))
	}

	observability.RecordBackendCall("destroy", "ok", time.Since(start))
	log.Info().
		Str("resource", id).
		Dur("duration", time.Since(start)).
		Msg("terraform.Controller.DestroyResource done")
	return nil
}

// ParseResourceList splits state list output into identifiers, dropping empty lines.
func ParseResourceList(out []byte) []string {
	lines := strings.Split(string(out), "\n")
	resources := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		resources = append(resources, line)
	}
	return resources
}

const stderrTailLimit = 512

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= stderrTailLimit {
		return s
	}
	start := len(s) - stderrTailLimit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
