package terraform

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/danmuck/tfdoom/internal/testutil/fakerun"
	"github.com/danmuck/tfdoom/internal/testutil/testlog"
	"github.com/danmuck/tfdoom/internal/tools"
)

func newTestController(runner tools.CommandRunner) *Controller {
	base := BuildBaseCommand([]string{"TF_VAR_region=us-east-1"}, BaseOptions{Chdir: "/infra"})
	return NewController(base, runner)
}

func TestListResourcesParsesBackendOutput(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New(fakerun.Reply{
		Match:  "state list",
		Result: tools.Result{Stdout: []byte("aws_instance.web\naws_instance.db\n\n")},
	})
	ctrl := newTestController(runner)

	listing := ctrl.ListResources(context.Background())
	if listing.Failed() {
		t.Fatalf("unexpected failure: %+v", listing)
	}
	want := []string{"aws_instance.web", "aws_instance.db"}
	if !reflect.DeepEqual(listing.Resources, want) {
		t.Fatalf("unexpected resources: %+v", listing.Resources)
	}
	captured := runner.Captured()
	if len(captured) != 1 || captured[0] != "TF_VAR_region=us-east-1 terraform -chdir=/infra state list" {
		t.Fatalf("unexpected invocation: %+v", captured)
	}
	testlog.Logf("terraform/list: %v", listing.Resources)
}

func TestListResourcesDropsEmptyLinesKeepsOrder(t *testing.T) {
	testlog.Start(t)

	out := "\nb.one\n\n\na.two\r\nc.three"
	runner := fakerun.New(fakerun.Reply{Match: "state list", Result: tools.Result{Stdout: []byte(out)}})
	listing := newTestController(runner).ListResources(context.Background())

	want := []string{"b.one", "a.two", "c.three"}
	if !reflect.DeepEqual(listing.Resources, want) {
		t.Fatalf("unexpected resources: %+v", listing.Resources)
	}
}

func TestListResourcesEmptyStateIsOK(t *testing.T) {
	testlog.Start(t)

	listing := newTestController(fakerun.New()).ListResources(context.Background())
	if listing.Outcome != ListOK {
		t.Fatalf("expected ok outcome, got %q", listing.Outcome)
	}
	if len(listing.Resources) != 0 {
		t.Fatalf("expected no resources, got %+v", listing.Resources)
	}
}

func TestListResourcesNonZeroExitDegradesToEmpty(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New(fakerun.Reply{
		Match: "state list",
		Result: tools.Result{
			Stdout:   []byte("aws_instance.web\n"),
			Stderr:   []byte("No state file was found!"),
			ExitCode: 1,
		},
	})
	listing := newTestController(runner).ListResources(context.Background())

	if listing.Outcome != ListBackendFailed || !listing.Failed() {
		t.Fatalf("expected backend failure outcome, got %q", listing.Outcome)
	}
	if len(listing.Resources) != 0 {
		t.Fatalf("expected empty resources on failure, got %+v", listing.Resources)
	}
	if listing.ExitCode != 1 || !strings.Contains(listing.Stderr, "No state file") {
		t.Fatalf("expected diagnostics on listing, got %+v", listing)
	}
	testlog.Logf("terraform/list: backend failure tagged outcome=%s", listing.Outcome)
}

func TestListResourcesSpawnFailure(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New(fakerun.Reply{Match: "state list", Err: tools.ErrSpawn})
	listing := newTestController(runner).ListResources(context.Background())
	if listing.Outcome != ListSpawnFailed {
		t.Fatalf("expected spawn failure outcome, got %q", listing.Outcome)
	}
	if !errors.Is(listing.Err, tools.ErrSpawn) {
		t.Fatalf("expected spawn error, got %v", listing.Err)
	}
	if len(listing.Resources) != 0 {
		t.Fatalf("expected empty resources")
	}
}

func TestDestroyResourceInvocation(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New()
	ctrl := newTestController(runner)
	if err := ctrl.DestroyResource(context.Background(), "aws_instance.web"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	want := "TF_VAR_region=us-east-1 terraform -chdir=/infra destroy -auto-approve -target aws_instance.web"
	captured := runner.Captured()
	if len(captured) != 1 || captured[0] != want {
		t.Fatalf("unexpected invocation: %+v", captured)
	}
	if runner.Count("state list") != 0 {
		t.Fatalf("destroy must not list")
	}
}

func TestDestroyResourceQuotesAddress(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New()
	id := `module.app.aws_instance.web["blue"]`
	if err := newTestController(runner).DestroyResource(context.Background(), id); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	captured := runner.Captured()
	if len(captured) != 1 || !strings.HasSuffix(captured[0], `-target 'module.app.aws_instance.web["blue"]'`) {
		t.Fatalf("unexpected invocation: %+v", captured)
	}
}

func TestDestroyResourceRejectsEmptyID(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New()
	ctrl := newTestController(runner)
	for _, id := range []string{"", "   "} {
		if err := ctrl.DestroyResource(context.Background(), id); !errors.Is(err, ErrEmptyResourceID) {
			t.Fatalf("expected ErrEmptyResourceID for %q, got %v", id, err)
		}
	}
	if len(runner.Captured()) != 0 {
		t.Fatalf("expected no backend calls, got %+v", runner.Captured())
	}
}

func TestDestroyResourceFailureSurfaced(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New(fakerun.Reply{
		Match:  "destroy",
		Result: tools.Result{ExitCode: 1, Stderr: []byte("Error: resource not found")},
	})
	err := newTestController(runner).DestroyResource(context.Background(), "aws_instance.gone")
	if !errors.Is(err, ErrDestroyFailed) {
		t.Fatalf("expected ErrDestroyFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit_code=1") {
		t.Fatalf("expected exit code in error: %v", err)
	}

	runner = fakerun.New(fakerun.Reply{Match: "destroy", Err: tools.ErrSpawn})
	err = newTestController(runner).DestroyResource(context.Background(), "aws_instance.gone")
	if !errors.Is(err, ErrDestroyFailed) {
		t.Fatalf("expected ErrDestroyFailed on spawn failure, got %v", err)
	}
	testlog.Logf("terraform/destroy: failure surfaced err=%v", err)
}

func TestDestroyResourceDistinctIDsRunIndependently(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New()
	runner.Gate = make(chan struct{})
	ctrl := newTestController(runner)

	var wg sync.WaitGroup
	for _, id := range []string{"a.one", "b.two"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := ctrl.DestroyResource(context.Background(), id); err != nil {
				t.Errorf("destroy %s: %v", id, err)
			}
		}(id)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runner.Count("destroy") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected both destroys in flight, saw %+v", runner.Captured())
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(runner.Gate)
	wg.Wait()
}

func TestDestroyResourceSameIDSharesInvocation(t *testing.T) {
	testlog.Start(t)

	runner := fakerun.New()
	runner.Gate = make(chan struct{})
	ctrl := newTestController(runner)

	errs := make(chan error, 2)
	go func() { errs <- ctrl.DestroyResource(context.Background(), "aws_instance.web") }()

	deadline := time.Now().Add(5 * time.Second)
	for runner.Count("destroy") < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first destroy never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	go func() { errs <- ctrl.DestroyResource(context.Background(), "aws_instance.web") }()
	time.Sleep(50 * time.Millisecond)
	close(runner.Gate)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("destroy: %v", err)
		}
	}
	if n := runner.Count("destroy"); n != 1 {
		t.Fatalf("expected one shared destroy invocation, got %d", n)
	}
}

func TestTailKeepsRuneBoundary(t *testing.T) {
	// An even ASCII prefix puts the cut inside a two-byte rune.
	stderr := []byte("ab" + strings.Repeat("é", stderrTailLimit))
	got := tail(stderr)
	if !utf8.ValidString(got) {
		t.Fatalf("tail produced invalid utf-8: %q", got[:8])
	}
	if len(got) > stderrTailLimit || !strings.HasSuffix(string(stderr), got) {
		t.Fatalf("unexpected tail length %d", len(got))
	}
	if short := tail([]byte("  Error: boom \n")); short != "Error: boom" {
		t.Fatalf("unexpected short tail: %q", short)
	}
}
