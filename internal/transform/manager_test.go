package transform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func writeScript(t *testing.T, dir, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func TestManager_ApplyMatchingTransform(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "listing_price.js", `
// @path listings/
function transform(path, data) {
    data.displayPrice = (data.price / 100).toFixed(2);
    return data;
}
`)

	m := NewManager(zerolog.Nop())
	if err := m.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	out := m.Apply("listings/card-1", json.RawMessage(`{"price":32050}`))
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if doc["displayPrice"] != "320.50" {
		t.Errorf("displayPrice = %v", doc["displayPrice"])
	}
}

func TestManager_NoMatchPassesThrough(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "offers.js", `
// @path offers/
function transform(path, data) { return {}; }
`)

	m := NewManager(zerolog.Nop())
	if err := m.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}

	in := json.RawMessage(`{"untouched":true}`)
	if out := m.Apply("listings/1", in); string(out) != string(in) {
		t.Errorf("unmatched path was transformed: %s", out)
	}
}

func TestManager_ScriptErrorPassesThrough(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.js", `
// @path listings/
function transform(path, data) { throw new Error("boom"); }
`)

	m := NewManager(zerolog.Nop())
	if err := m.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}

	in := json.RawMessage(`{"v":1}`)
	if out := m.Apply("listings/1", in); string(out) != string(in) {
		t.Errorf("failing transform did not pass data through: %s", out)
	}
}

func TestManager_TimeoutPassesThrough(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "spin.js", `
// @path listings/
function transform(path, data) { while (true) {} }
`)

	m := NewManager(zerolog.Nop())
	m.SetTimeout(50 * time.Millisecond)
	if err := m.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}

	in := json.RawMessage(`{"v":1}`)
	if out := m.Apply("listings/1", in); string(out) != string(in) {
		t.Errorf("timed-out transform did not pass data through: %s", out)
	}
}

func TestManager_RejectsScriptWithoutDirective(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "nodirective.js", `function transform(p, d) { return d; }`)

	m := NewManager(zerolog.Nop())
	if err := m.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("script without @path directive was loaded")
	}
}

func TestManager_MissingDirectoryIsNotFatal(t *testing.T) {
	m := NewManager(zerolog.Nop())
	if err := m.LoadFromDirectory("/no/such/dir"); err != nil {
		t.Errorf("missing directory: %v", err)
	}
}
