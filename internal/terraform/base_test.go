package terraform

import (
	"strings"
	"testing"

	"github.com/danmuck/tfdoom/internal/testutil/testlog"
)

func TestBuildBaseCommandSingleBinding(t *testing.T) {
	testlog.Start(t)

	base := BuildBaseCommand(
		[]string{"TF_VAR_region=us-east-1", "HOME=/root", "PATH=/usr/bin"},
		BaseOptions{Binary: "terraform", Chdir: "/infra"},
	)
	want := "TF_VAR_region=us-east-1 terraform -chdir=/infra"
	if base.String() != want {
		t.Fatalf("unexpected base command\nwant: %s\ngot:  %s", want, base.String())
	}
	testlog.Logf("terraform/base: %s", base)
}

func TestBuildBaseCommandSortsBindings(t *testing.T) {
	testlog.Start(t)

	base := BuildBaseCommand(
		[]string{"TF_VAR_zone=b", "TF_LOG=info", "TF_VAR_app=doom"},
		DefaultBaseOptions(),
	)
	want := "TF_LOG=info TF_VAR_app=doom TF_VAR_zone=b terraform -chdir=/tf"
	if base.String() != want {
		t.Fatalf("unexpected base command\nwant: %s\ngot:  %s", want, base.String())
	}
	if got := base.Bindings(); len(got) != 3 || got[0] != "TF_LOG=info" {
		t.Fatalf("unexpected bindings: %+v", got)
	}
}

func TestBuildBaseCommandWithoutBindings(t *testing.T) {
	testlog.Start(t)

	base := BuildBaseCommand([]string{"HOME=/root", "XTF_VAR=1"}, BaseOptions{})
	if base.String() != "terraform -chdir=/tf" {
		t.Fatalf("unexpected base command: %q", base.String())
	}
	if len(base.Bindings()) != 0 {
		t.Fatalf("expected no bindings")
	}
}

func TestBuildBaseCommandChdirOnlyChangesFlag(t *testing.T) {
	testlog.Start(t)

	env := []string{"TF_VAR_region=us-east-1", "TF_VAR_size=small"}
	a := BuildBaseCommand(env, BaseOptions{Chdir: "/infra"})
	b := BuildBaseCommand(env, BaseOptions{Chdir: "/other"})
	if a.Chdir() != "/infra" || b.Chdir() != "/other" {
		t.Fatalf("unexpected chdir: %q / %q", a.Chdir(), b.Chdir())
	}

	if strings.Join(a.Bindings(), " ") != strings.Join(b.Bindings(), " ") {
		t.Fatalf("binding segment changed with chdir: %v vs %v", a.Bindings(), b.Bindings())
	}
	if strings.Count(a.String(), "-chdir=") != 1 || strings.Count(b.String(), "-chdir=") != 1 {
		t.Fatalf("expected exactly one chdir flag: %q / %q", a, b)
	}
	if strings.TrimSuffix(a.String(), "/infra") != strings.TrimSuffix(b.String(), "/other") {
		t.Fatalf("commands differ beyond chdir value: %q / %q", a, b)
	}
}

func TestBuildBaseCommandQuotesUnsafeValues(t *testing.T) {
	testlog.Start(t)

	base := BuildBaseCommand([]string{"TF_VAR_tags=a b", "TF_VAR_q=it's"}, BaseOptions{Chdir: "/tf"})
	want := `TF_VAR_q='it'"'"'s' TF_VAR_tags='a b' terraform -chdir=/tf`
	if base.String() != want {
		t.Fatalf("unexpected base command\nwant: %s\ngot:  %s", want, base.String())
	}
}

func TestBaseCommandWith(t *testing.T) {
	testlog.Start(t)

	base := BuildBaseCommand(nil, BaseOptions{Chdir: "/infra"})
	if got := base.With("state", "list"); got != "terraform -chdir=/infra state list" {
		t.Fatalf("unexpected invocation: %q", got)
	}
	if got := base.With(); got != base.String() {
		t.Fatalf("expected bare base command, got %q", got)
	}
}
