package vault

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kira-host/kira/infrastructure/utils"
)

// sentinel delimits the front-matter block from the body, mirroring the
// familiar Markdown front-matter convention used across the note-taking
// ecosystem this vault format imitates.
const sentinel = "---"

type frontMatter struct {
	ID        string                 `yaml:"id"`
	Type      string                 `yaml:"type"`
	CreatedTS string                 `yaml:"created_ts"`
	UpdatedTS string                 `yaml:"updated_ts"`
	DoneTS    string                 `yaml:"done_ts,omitempty"`
	Metadata  map[string]interface{} `yaml:"metadata"`
}

// encodeEntity renders an Entity as the on-disk front-matter + body text.
// The writer and parser below are kept strictly symmetric: encode followed
// by decode reproduces the same Entity value.
func encodeEntity(e *Entity) ([]byte, error) {
	fm := frontMatter{
		ID:        e.ID,
		Type:      string(e.Type),
		CreatedTS: e.CreatedTS.UTC().Format(time.RFC3339),
		UpdatedTS: e.UpdatedTS.UTC().Format(time.RFC3339),
		Metadata:  e.Metadata,
	}
	if e.DoneTS != nil {
		fm.DoneTS = e.DoneTS.UTC().Format(time.RFC3339)
	}

	raw, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("vault: encode front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString(sentinel)
	b.WriteByte('\n')
	b.Write(raw)
	b.WriteString(sentinel)
	b.WriteByte('\n')
	b.WriteString(e.Content)
	return []byte(b.String()), nil
}

// decodeEntity parses the on-disk representation back into an Entity.
func decodeEntity(raw []byte) (*Entity, error) {
	text := string(raw)
	if !strings.HasPrefix(text, sentinel+"\n") {
		return nil, fmt.Errorf("vault: missing front-matter opening sentinel")
	}
	rest := text[len(sentinel)+1:]
	end := strings.Index(rest, "\n"+sentinel+"\n")
	if end < 0 {
		return nil, fmt.Errorf("vault: missing front-matter closing sentinel")
	}
	yamlBlock := rest[:end]
	body := rest[end+len("\n"+sentinel+"\n"):]

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("vault: decode front matter: %w", err)
	}

	created, err := time.Parse(time.RFC3339, fm.CreatedTS)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid created_ts: %w", err)
	}
	updated, err := time.Parse(time.RFC3339, fm.UpdatedTS)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid updated_ts: %w", err)
	}

	e := &Entity{
		ID:        fm.ID,
		Type:      Type(fm.Type),
		Metadata:  fm.Metadata,
		Content:   body,
		CreatedTS: created,
		UpdatedTS: updated,
	}
	if fm.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	if fm.DoneTS != "" {
		done, err := time.Parse(time.RFC3339, fm.DoneTS)
		if err != nil {
			return nil, fmt.Errorf("vault: invalid done_ts: %w", err)
		}
		e.DoneTS = utils.Ptr(done)
	}
	return e, nil
}
