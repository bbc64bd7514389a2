package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type productFile struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// LoadFile reads a JSON array of products from disk and returns a Static
// catalog over them. Daemons point this at their product fixture.
func LoadFile(path string) (*Static, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var entries []productFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	products := make([]Product, 0, len(entries))
	for i, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog file %s: entry %d has no id", path, i)
		}
		if entry.Price < 0 {
			return nil, fmt.Errorf("catalog file %s: product %s has negative price", path, id)
		}
		products = append(products, Product{ID: id, Name: entry.Name, Price: entry.Price})
	}
	return NewStatic(products...), nil
}
