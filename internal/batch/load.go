package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// LoadInvoices reads typed invoices from a JSON file or a directory of JSON
// files. A file may hold one invoice object or an array of them.
func LoadInvoices(path string) ([]*models.Invoice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("batch: input %s: %w", path, err)
	}

	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("batch: read dir %s: %w", path, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []*models.Invoice
	for _, name := range names {
		invs, err := loadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		all = append(all, invs...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("batch: no invoices under %s", path)
	}
	return all, nil
}

func loadFile(path string) ([]*models.Invoice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("batch: read %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var invs []*models.Invoice
		if err := json.Unmarshal(raw, &invs); err != nil {
			return nil, fmt.Errorf("batch: decode %s: %w", path, err)
		}
		return invs, nil
	}

	var inv models.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("batch: decode %s: %w", path, err)
	}
	return []*models.Invoice{&inv}, nil
}

func writeJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
