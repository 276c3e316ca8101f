package agentgraph

import (
	"context"
	"fmt"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/internal/hostapi"
	"github.com/kira-host/kira/internal/pipeline"
	"github.com/kira-host/kira/internal/tools"
	"github.com/kira-host/kira/internal/vault"
)

// Dispatcher is the one place a tool name turns into an actual mutation,
// grounding the agent graph's Execute-tool node in the real host API rather
// than letting plan/reflect steps touch the vault directly.
type Dispatcher struct {
	hostAPI *hostapi.HostAPI
	rollup  *pipeline.RollupPipeline
}

// NewDispatcher constructs a Dispatcher over the given host API and rollup
// pipeline. rollup may be nil if rollup_daily is never invoked.
func NewDispatcher(api *hostapi.HostAPI, rollup *pipeline.RollupPipeline) *Dispatcher {
	return &Dispatcher{hostAPI: api, rollup: rollup}
}

// Invoke runs one validated, policy-checked tool call. When dryRun is true,
// no host-API mutation happens; Invoke returns a synthetic "would" result
// describing the intended action instead.
func (d *Dispatcher) Invoke(ctx context.Context, traceID, tool string, args map[string]interface{}, dryRun bool) (map[string]interface{}, error) {
	if dryRun {
		return map[string]interface{}{"dry_run": true, "tool": tool, "args": args}, nil
	}

	switch tool {
	case tools.TaskCreate:
		return d.createEntity(ctx, traceID, vault.TypeTask, args)
	case tools.TaskUpdate:
		return d.updateEntity(ctx, traceID, args)
	case tools.TaskDelete:
		return d.deleteEntity(ctx, traceID, args)
	case tools.TaskGet:
		return d.getEntity(args)
	case tools.TaskList:
		return d.listEntities(vault.TypeTask, args)
	case tools.RollupDaily:
		return d.rollupDaily(ctx, args)
	case tools.VaultExport:
		return d.vaultExport(args)
	default:
		return nil, kerrors.InvalidInput("tool", fmt.Sprintf("no dispatcher registered for %q", tool))
	}
}

func (d *Dispatcher) createEntity(ctx context.Context, traceID string, typ vault.Type, args map[string]interface{}) (map[string]interface{}, error) {
	content, _ := args["content"].(string)
	data := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == "content" {
			continue
		}
		data[k] = v
	}
	e, err := d.hostAPI.CreateEntity(ctx, traceID, typ, data, content)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": e.ID, "status": string(e.Status())}, nil
}

func (d *Dispatcher) updateEntity(ctx context.Context, traceID string, args map[string]interface{}) (map[string]interface{}, error) {
	id, _ := args["id"].(string)
	patch := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == "id" {
			continue
		}
		patch[k] = v
	}
	e, err := d.hostAPI.UpdateEntity(ctx, traceID, id, patch)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": e.ID, "status": string(e.Status())}, nil
}

func (d *Dispatcher) deleteEntity(ctx context.Context, traceID string, args map[string]interface{}) (map[string]interface{}, error) {
	id, _ := args["id"].(string)
	if err := d.hostAPI.DeleteEntity(ctx, traceID, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "deleted": true}, nil
}

func (d *Dispatcher) getEntity(args map[string]interface{}) (map[string]interface{}, error) {
	id, _ := args["id"].(string)
	e, err := d.hostAPI.ReadEntity(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, kerrors.NotFound("entity", id)
	}
	return map[string]interface{}{"id": e.ID, "type": string(e.Type), "metadata": e.Metadata, "content": e.Content}, nil
}

func (d *Dispatcher) listEntities(typ vault.Type, args map[string]interface{}) (map[string]interface{}, error) {
	entities, err := d.hostAPI.ListEntities(typ)
	if err != nil {
		return nil, err
	}
	status, _ := args["status"].(string)
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		if status != "" && e.Status() != vault.TaskStatus(status) {
			continue
		}
		ids = append(ids, e.ID)
	}
	return map[string]interface{}{"count": len(ids), "ids": ids}, nil
}

func (d *Dispatcher) rollupDaily(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	if d.rollup == nil {
		return nil, kerrors.Internal("rollup pipeline not wired", nil)
	}
	dateStr, _ := args["date"].(string)
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, kerrors.InvalidFormat("date", "YYYY-MM-DD")
	}
	result, err := d.rollup.CreateDailyRollup(ctx, day)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": result.EntityID, "sections": result.SectionsCount}, nil
}

func (d *Dispatcher) vaultExport(args map[string]interface{}) (map[string]interface{}, error) {
	destination, _ := args["destination"].(string)
	count, err := exportVault(d.hostAPI, destination)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"destination": destination, "count": count}, nil
}
