package cliutil

import (
	"flag"

	"github.com/kira-host/kira/infrastructure/logging"
)

// GlobalFlags holds the four flags spec.md §6 says every kira-host command
// accepts.
type GlobalFlags struct {
	JSON     bool
	TraceID  string
	DryRun   bool
	Yes      bool
}

// Register adds the global flags to fs and returns a GlobalFlags whose
// fields are populated once fs.Parse has run.
func Register(fs *flag.FlagSet) *GlobalFlags {
	g := &GlobalFlags{}
	fs.BoolVar(&g.JSON, "json", false, "machine-readable output")
	fs.StringVar(&g.TraceID, "trace-id", "", "propagate this trace id into every emitted event and audit entry")
	fs.BoolVar(&g.DryRun, "dry-run", false, "skip side effects and report the intended action")
	fs.BoolVar(&g.Yes, "yes", false, "skip confirmation for destructive operations")
	return g
}

// ResolveTraceID returns g.TraceID if set, otherwise a freshly generated one.
func (g *GlobalFlags) ResolveTraceID() string {
	if g.TraceID != "" {
		return g.TraceID
	}
	return logging.NewTraceID()
}
