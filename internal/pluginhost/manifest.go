package pluginhost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// Contributes lists the event and command names a plugin's manifest
// declares handlers for.
type Contributes struct {
	Events   []string `json:"events"`
	Commands []string `json:"commands"`
}

// Manifest is a plugin's kira-plugin.json descriptor.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	DisplayName  string            `json:"displayName"`
	Description  string            `json:"description"`
	Publisher    string            `json:"publisher"`
	Engines      map[string]string `json:"engines"`
	Permissions  []string          `json:"permissions"`
	Entry        string            `json:"entry"`
	Capabilities []string          `json:"capabilities"`
	Contributes  Contributes       `json:"contributes"`
}

var entryPattern = regexp.MustCompile(`^[A-Za-z_][\w.]*:[A-Za-z_]\w*$`)

// allPermissions is the closed set of permission names a manifest may
// declare, one per PluginContext facility the host hands to a loaded
// plugin (logger excepted: every plugin gets it, unconditionally) plus the
// vault actions mirroring the policy enforcer's capability set.
var allPermissions = map[string]bool{
	"events.subscribe": true,
	"events.publish":   true,
	"scheduler.manage": true,
	"kv.read":          true,
	"kv.write":         true,
	"secrets.read":     true,
	"vault.read":       true,
	"vault.create":     true,
	"vault.update":     true,
	"vault.delete":     true,
	"vault.export":     true,
}

// Validate checks every field the manifest schema requires is present and
// that entry follows the "module:function" form.
func (m *Manifest) Validate() error {
	required := map[string]string{
		"name":        m.Name,
		"version":     m.Version,
		"displayName": m.DisplayName,
		"description": m.Description,
		"publisher":   m.Publisher,
		"entry":       m.Entry,
	}
	for field, v := range required {
		if v == "" {
			return kerrors.MissingParameter(field)
		}
	}
	if m.Engines == nil {
		return kerrors.MissingParameter("engines")
	}
	if m.Permissions == nil {
		return kerrors.MissingParameter("permissions")
	}
	for _, p := range m.Permissions {
		if !allPermissions[p] {
			return kerrors.InvalidFormat("permissions", fmt.Sprintf("unknown permission %q", p))
		}
	}
	if m.Capabilities == nil {
		return kerrors.MissingParameter("capabilities")
	}
	if m.Contributes.Events == nil {
		return kerrors.MissingParameter("contributes.events")
	}
	if m.Contributes.Commands == nil {
		return kerrors.MissingParameter("contributes.commands")
	}
	if !entryPattern.MatchString(m.Entry) {
		return kerrors.InvalidFormat("entry", "module:function")
	}
	return nil
}

// EntryModule and EntryFunction split manifest Entry ("module:function").
func (m *Manifest) EntryModule() string {
	for i, r := range m.Entry {
		if r == ':' {
			return m.Entry[:i]
		}
	}
	return ""
}

func (m *Manifest) EntryFunction() string {
	for i, r := range m.Entry {
		if r == ':' {
			return m.Entry[i+1:]
		}
	}
	return ""
}

const manifestFileName = "kira-plugin.json"

// LoadManifest reads and validates kira-plugin.json from dir.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.NotFound("plugin_manifest", path)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, kerrors.InvalidFormat("kira-plugin.json", fmt.Sprintf("valid JSON: %v", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
