package report

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteFiles persists both renditions of a report under dir, named by the
// invoice access key. Returns the two paths.
func WriteFiles(dir string, t *Tree) (jsonPath, mdPath string, err error) {
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}

	base := t.InvoiceInfo.AccessKey
	if base == "" {
		base = "relatorio"
	}

	jsonPath = filepath.Join(dir, base+".json")
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err = os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return "", "", err
	}

	mdPath = filepath.Join(dir, base+".md")
	if err = os.WriteFile(mdPath, []byte(RenderMarkdown(t)), 0o644); err != nil {
		return "", "", err
	}
	return jsonPath, mdPath, nil
}
