package terraform

import (
	"sort"
	"strings"

	"github.com/danmuck/tfdoom/internal/tools"
)

const (
	DefaultEnvPrefix = "TF_"
	DefaultBinary    = "terraform"
	DefaultChdir     = "/tf"
)

// BaseOptions selects what goes into the base command.
type BaseOptions struct {
	EnvPrefix string
	Binary    string
	Chdir     string
}

func DefaultBaseOptions() BaseOptions {
	return BaseOptions{
		EnvPrefix: DefaultEnvPrefix,
		Binary:    DefaultBinary,
		Chdir:     DefaultChdir,
	}
}

func (o BaseOptions) withDefaults() BaseOptions {
	if o.EnvPrefix == "" {
		o.EnvPrefix = DefaultEnvPrefix
	}
	if strings.TrimSpace(o.Binary) == "" {
		o.Binary = DefaultBinary
	}
	if strings.TrimSpace(o.Chdir) == "" {
		o.Chdir = DefaultChdir
	}
	return o
}

// BaseCommand is the invocation prefix shared by every terraform call.
// It is immutable once built.
type BaseCommand struct {
	bindings []string
	binary   string
	chdir    string
	rendered string
}

// BuildBaseCommand collects prefixed KEY=VALUE bindings from environ (sorted
// by key) and appends the binary and its -chdir flag.
func BuildBaseCommand(environ []string, opts BaseOptions) BaseCommand {
	opts = opts.withDefaults()

	vars := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" || !strings.HasPrefix(key, opts.EnvPrefix) {
			continue
		}
		vars[key] = value
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bindings := make([]string, 0, len(keys))
	for _, k := range keys {
		bindings = append(bindings, k+"="+tools.Quote(vars[k]))
	}

	var b strings.Builder
	for _, binding := range bindings {
		b.WriteString(binding)
		b.WriteByte(' ')
	}
	b.WriteString(tools.Quote(opts.Binary))
	b.WriteString(" -chdir=")
	b.WriteString(tools.Quote(opts.Chdir))

	return BaseCommand{
		bindings: bindings,
		binary:   opts.Binary,
		chdir:    opts.Chdir,
		rendered: b.String(),
	}
}

func (b BaseCommand) String() string {
	return b.rendered
}

// Bindings returns a copy of the rendered KEY=VALUE segment.
func (b BaseCommand) Bindings() []string {
	out := make([]string, len(b.bindings))
	copy(out, b.bindings)
	return out
}

func (b BaseCommand) Chdir() string {
	return b.chdir
}

// With renders base + " " + args. Args are emitted verbatim; quote untrusted
// values with tools.Quote first.
func (b BaseCommand) With(args ...string) string {
	if len(args) == 0 {
		return b.rendered
	}
	return b.rendered + " " + strings.Join(args, " ")
}
