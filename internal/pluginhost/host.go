// Package pluginhost loads plugin directories, enforces the static import
// allowlist before any script reaches the JS sandbox, and dispatches
// events/commands to the handlers a plugin registers.
package pluginhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dop251/goja"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/redaction"
	"github.com/kira-host/kira/infrastructure/utils"
	"github.com/kira-host/kira/internal/config"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/hostapi"
	"github.com/kira-host/kira/internal/scheduler"
	"github.com/kira-host/kira/internal/vault"
	"github.com/kira-host/kira/system/scriptengine"
)

// contextShim wraps the raw __host_* bindings Execute injects into a
// `context` object matching the shape PluginContext promises: logger,
// kv, events, vault, secrets. It runs ahead of the plugin's own source on
// every invocation.
const contextShim = `
var context = {
	logger: {
		info: function(msg) { __host_log_info(String(msg)); },
		warn: function(msg) { __host_log_warn(String(msg)); },
		error: function(msg) { __host_log_error(String(msg)); }
	},
	kv: {
		get: function(key) { return __host_kv_get(key); },
		set: function(key, value) { __host_kv_set(key, value); }
	},
	events: {
		publish: function(name, payload) { __host_publish(name, payload); }
	},
	vault: {
		createEntity: function(typ, data, content) { return __host_vault_create(typ, data, content); }
	},
	secrets: secrets
};
`

const maxPluginLogMessage = 2000

type plugin struct {
	manifest *Manifest
	dir      string
	source   string
	kv       *KVStore
	override *config.PluginOverride
}

// Host owns every loaded plugin and the host-side objects (vault, event
// bus, scheduler, logger) a PluginContext exposes to them.
type Host struct {
	mu        sync.RWMutex
	engine    *scriptengine.Engine
	vault     *hostapi.HostAPI
	bus       *eventbus.Bus
	scheduler *scheduler.Scheduler
	logger    *logging.Logger
	kvDir     string
	plugins   map[string]*plugin
}

// New constructs a Host. kvDir is the base directory each plugin's
// key-value JSON file is written under.
func New(engine *scriptengine.Engine, vaultAPI *hostapi.HostAPI, bus *eventbus.Bus, sched *scheduler.Scheduler, logger *logging.Logger, kvDir string) *Host {
	return &Host{
		engine:    engine,
		vault:     vaultAPI,
		bus:       bus,
		scheduler: sched,
		logger:    logger,
		kvDir:     kvDir,
		plugins:   make(map[string]*plugin),
	}
}

func (h *Host) otherPluginNames(except string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		if name != except {
			names = append(names, name)
		}
	}
	return names
}

// Load validates dir's manifest, statically scans its entry source for
// disallowed imports, validates the script compiles, then invokes the
// entry point once as the activation call. A plugin that fails any step is
// never registered.
func (h *Host) Load(ctx context.Context, dir string) (*Manifest, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	sourcePath := filepath.Join(dir, manifest.EntryModule()+".js")
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, kerrors.NotFound("plugin_entry_source", sourcePath)
	}
	source := string(raw)

	if err := ScanImports(source, h.otherPluginNames(manifest.Name)); err != nil {
		return nil, err
	}
	if err := h.engine.ValidateScript(ctx, source); err != nil {
		return nil, err
	}

	override, err := config.LoadPluginOverride(filepath.Join(dir, "kira-plugin.toml"))
	if err != nil {
		return nil, err
	}
	kvPath := filepath.Join(h.kvDir, manifest.Name+".json")
	kv, err := NewKVStore(kvPath, override.KVQuotaBytes)
	if err != nil {
		return nil, err
	}

	p := &plugin{manifest: manifest, dir: dir, source: source, kv: kv, override: override}

	result, err := h.invoke(ctx, p, manifest.EntryFunction(), map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("activate plugin %s: %w", manifest.Name, err)
	}
	if status, _ := result.Output["status"].(string); status != "ok" {
		return nil, fmt.Errorf("plugin %s: activation did not return status ok", manifest.Name)
	}

	h.mu.Lock()
	h.plugins[manifest.Name] = p
	h.mu.Unlock()
	return manifest, nil
}

// Unload drops a loaded plugin; it does not affect files on disk.
func (h *Host) Unload(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.plugins, name)
}

// Names lists currently loaded plugins.
func (h *Host) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	return names
}

// DispatchEvent invokes every loaded plugin that declares eventType in
// contributes.events, in no particular cross-plugin order; one plugin's
// error does not stop dispatch to the others.
func (h *Host) DispatchEvent(ctx context.Context, eventType string, payload map[string]any) map[string]error {
	return h.dispatch(ctx, eventType, payload, func(m *Manifest) []string { return m.Contributes.Events })
}

// DispatchCommand invokes every loaded plugin that declares command in
// contributes.commands.
func (h *Host) DispatchCommand(ctx context.Context, command string, args map[string]any) map[string]error {
	return h.dispatch(ctx, command, args, func(m *Manifest) []string { return m.Contributes.Commands })
}

func (h *Host) dispatch(ctx context.Context, name string, input map[string]any, list func(*Manifest) []string) map[string]error {
	h.mu.RLock()
	targets := make([]*plugin, 0)
	for _, p := range h.plugins {
		for _, declared := range list(p.manifest) {
			if declared == name {
				targets = append(targets, p)
				break
			}
		}
	}
	h.mu.RUnlock()

	errs := make(map[string]error)
	for _, p := range targets {
		if _, err := h.invoke(ctx, p, name, input); err != nil {
			errs[p.manifest.Name] = err
			if h.logger != nil {
				h.logger.WithField("plugin", p.manifest.Name).WithField("event", name).WithError(err).Warn("plugin handler failed")
			}
		}
	}
	return errs
}

func (h *Host) invoke(ctx context.Context, p *plugin, name string, input map[string]any) (*scriptengine.Result, error) {
	script := contextShim + "\n" + p.source
	req := scriptengine.Request{
		Script:   script,
		Name:     name,
		Input:    input,
		Bindings: h.bindingsFor(ctx, p),
	}
	start := time.Now()
	result, err := h.engine.Execute(ctx, req)
	if h.logger != nil {
		h.logger.LogPluginInvocation(p.manifest.Name, name, time.Since(start), err)
	}
	return result, err
}

func (h *Host) bindingsFor(ctx context.Context, p *plugin) map[string]func(*goja.Runtime, goja.FunctionCall) goja.Value {
	logAt := func(level string) func(*goja.Runtime, goja.FunctionCall) goja.Value {
		return func(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
			if h.logger == nil || len(call.Arguments) == 0 {
				return goja.Undefined()
			}
			entry := h.logger.WithField("plugin", p.manifest.Name)
			// A plugin's own log message is untrusted: it may echo back a
			// value the plugin read through context.secrets, so it is
			// scrubbed the same way any other externally-sourced text
			// reaching a persisted log is, and capped so a misbehaving
			// plugin can't flood the log file with one oversized line.
			msg := utils.Truncate(redaction.RedactAll(call.Arguments[0].String()), maxPluginLogMessage)
			switch level {
			case "warn":
				entry.Warn(msg)
			case "error":
				entry.Error(msg)
			default:
				entry.Info(msg)
			}
			return goja.Undefined()
		}
	}

	return map[string]func(*goja.Runtime, goja.FunctionCall) goja.Value{
		"__host_log_info":  logAt("info"),
		"__host_log_warn":  logAt("warn"),
		"__host_log_error": logAt("error"),
		"__host_kv_get": func(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				return goja.Undefined()
			}
			var out interface{}
			found, err := p.kv.Get(call.Arguments[0].String(), &out)
			if err != nil || !found {
				return goja.Undefined()
			}
			return vm.ToValue(out)
		},
		"__host_kv_set": func(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				return goja.Undefined()
			}
			_ = p.kv.Set(call.Arguments[0].String(), call.Arguments[1].Export())
			return goja.Undefined()
		},
		"__host_publish": func(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 1 || h.bus == nil {
				return goja.Undefined()
			}
			payload := eventbus.Payload{}
			if len(call.Arguments) > 1 {
				if m, ok := call.Arguments[1].Export().(map[string]interface{}); ok {
					payload = eventbus.Payload(m)
				}
			}
			h.bus.Publish(ctx, call.Arguments[0].String(), payload)
			return goja.Undefined()
		},
		"__host_vault_create": func(vm *goja.Runtime, call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 || h.vault == nil {
				return goja.Undefined()
			}
			typ := vault.Type(call.Arguments[0].String())
			data, _ := call.Arguments[1].Export().(map[string]interface{})
			content := ""
			if len(call.Arguments) > 2 {
				content = call.Arguments[2].String()
			}
			traceID := logging.NewTraceID()
			entity, err := h.vault.CreateEntity(ctx, traceID, typ, data, content)
			if err != nil {
				return vm.ToValue(map[string]any{"error": err.Error()})
			}
			return vm.ToValue(map[string]any{"id": entity.ID})
		},
	}
}
