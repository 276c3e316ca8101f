package agentgraph

import (
	"encoding/json"
	"os"
	"path/filepath"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/internal/hostapi"
	"github.com/kira-host/kira/internal/vault"
)

// exportVault writes every entity in the vault to destination as one JSON
// object per line, the same append-only shape pipeline's jsonl logger uses
// elsewhere, so an export is just a full-dump rendering of that format.
func exportVault(api *hostapi.HostAPI, destination string) (int, error) {
	if destination == "" {
		return 0, kerrors.MissingParameter("destination")
	}
	entities, err := api.ListEntities(vault.Type(""))
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return 0, kerrors.Internal("create export directory", err)
	}
	f, err := os.Create(destination)
	if err != nil {
		return 0, kerrors.Internal("create export file", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entities {
		row := map[string]interface{}{
			"id":       e.ID,
			"type":     string(e.Type),
			"metadata": e.Metadata,
			"content":  e.Content,
		}
		if err := enc.Encode(row); err != nil {
			return 0, kerrors.Internal("write export row", err)
		}
	}
	return len(entities), nil
}
