package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteSchemaCoversConfigFields(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "config.schema.json")
	if err := writeSchema(out, buildSchema()); err != nil {
		t.Fatalf("writeSchema: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, field := range []string{`"max_connections"`, `"resync_attempts"`, `"admin_keys"`, `"severity"`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("schema lacks %s", field)
		}
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}
