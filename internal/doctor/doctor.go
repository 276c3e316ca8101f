// Package doctor runs read-only health checks across kira's stateful
// components and reports them in one structured Report, the way a CLI
// "doctor" command surfaces a system's readiness before an operator trusts
// it with real work.
package doctor

import (
	"context"
	"strconv"
	"time"

	"github.com/kira-host/kira/internal/audit"
	"github.com/kira-host/kira/internal/dedupe"
	"github.com/kira-host/kira/internal/llmrouter"
	"github.com/kira-host/kira/internal/pluginhost"
	"github.com/kira-host/kira/internal/scheduler"
	"github.com/kira-host/kira/internal/syncledger"
	"github.com/kira-host/kira/internal/vault"
)

// Check is one component's health probe result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Report is the full set of checks from one Run.
type Report struct {
	Checks []Check `json:"checks"`
}

// OK reports whether every check in the report passed.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Doctor holds handles to every component Run probes. Any field may be nil;
// a nil component's check is reported not-OK with an explanatory detail
// rather than panicking, since a partially wired kira instance is still
// worth doctoring.
type Doctor struct {
	Vault       *vault.Store
	Dedupe      *dedupe.Store
	SyncLedger  *syncledger.Ledger
	Audit       *audit.Logger
	Scheduler   *scheduler.Scheduler
	PluginHost  *pluginhost.Host
	LLMRouter   *llmrouter.Router
}

// Run executes every check and returns the aggregate Report. No check
// mutates state; each either reads an existing record or inspects an
// in-memory handle.
func (d *Doctor) Run(ctx context.Context) Report {
	return Report{Checks: []Check{
		d.checkVault(),
		d.checkDedupe(ctx),
		d.checkSyncLedger(ctx),
		d.checkAudit(),
		d.checkScheduler(),
		d.checkPluginHost(),
		d.checkLLMRouter(ctx),
	}}
}

func (d *Doctor) checkVault() Check {
	if d.Vault == nil {
		return Check{Name: "vault", OK: false, Detail: "not configured"}
	}
	root := d.Vault.Root()
	if root == "" {
		return Check{Name: "vault", OK: false, Detail: "empty root path"}
	}
	return Check{Name: "vault", OK: true, Detail: root}
}

func (d *Doctor) checkDedupe(ctx context.Context) Check {
	if d.Dedupe == nil {
		return Check{Name: "dedupe", OK: false, Detail: "not configured"}
	}
	if _, err := d.Dedupe.Get(ctx, "doctor-probe"); err != nil {
		return Check{Name: "dedupe", OK: false, Detail: err.Error()}
	}
	return Check{Name: "dedupe", OK: true, Detail: "reachable"}
}

func (d *Doctor) checkSyncLedger(ctx context.Context) Check {
	if d.SyncLedger == nil {
		return Check{Name: "sync_ledger", OK: false, Detail: "not configured"}
	}
	if _, err := d.SyncLedger.Get(ctx, "doctor-probe", "doctor-probe"); err != nil {
		return Check{Name: "sync_ledger", OK: false, Detail: err.Error()}
	}
	return Check{Name: "sync_ledger", OK: true, Detail: "reachable"}
}

func (d *Doctor) checkAudit() Check {
	if d.Audit == nil {
		return Check{Name: "audit", OK: false, Detail: "not configured"}
	}
	if _, err := d.Audit.ReadDay(time.Now()); err != nil {
		return Check{Name: "audit", OK: false, Detail: err.Error()}
	}
	return Check{Name: "audit", OK: true, Detail: "reachable"}
}

func (d *Doctor) checkScheduler() Check {
	if d.Scheduler == nil {
		return Check{Name: "scheduler", OK: false, Detail: "not configured"}
	}
	return Check{Name: "scheduler", OK: true, Detail: "running"}
}

func (d *Doctor) checkPluginHost() Check {
	if d.PluginHost == nil {
		return Check{Name: "plugin_host", OK: false, Detail: "not configured"}
	}
	names := d.PluginHost.Names()
	return Check{Name: "plugin_host", OK: true, Detail: joinCount(len(names))}
}

func (d *Doctor) checkLLMRouter(_ context.Context) Check {
	if d.LLMRouter == nil {
		return Check{Name: "llm_router", OK: false, Detail: "not configured"}
	}
	if !d.LLMRouter.HasProviderFor(llmrouter.TaskDefault) {
		return Check{Name: "llm_router", OK: false, Detail: "no provider registered for the default task route"}
	}
	return Check{Name: "llm_router", OK: true, Detail: "default provider registered"}
}

func joinCount(n int) string {
	if n == 1 {
		return "1 plugin loaded"
	}
	return strconv.Itoa(n) + " plugins loaded"
}
