// Package transform applies user-provided JavaScript transforms to snapshot
// data before it reaches subscribers.
//
// Transforms are .js files loaded from a directory at startup. Each file must
// carry a @path directive naming the path prefix it handles and define a
// transform function:
//
//	// @path listings/
//	function transform(path, data) {
//	    data.displayPrice = (data.price / 100).toFixed(2);
//	    return data;
//	}
//
// A transform failure never breaks delivery: the snapshot passes through
// unchanged and the failure is logged.
package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultExecutionTimeout bounds a single transform run.
const DefaultExecutionTimeout = 5 * time.Second

// pathDirectiveRegex matches the @path directive in comments.
var pathDirectiveRegex = regexp.MustCompile(`(?m)^//\s*@path\s+(\S+)`)

// Script is a loaded transform.
type Script struct {
	Name       string // filename without extension
	PathPrefix string // from the @path directive
	Source     string
}

// Manager loads and executes transform scripts.
type Manager struct {
	scripts []*Script
	logger  zerolog.Logger
	timeout time.Duration
	mu      sync.RWMutex
}

// NewManager creates an empty Manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger:  logger.With().Str("component", "transform-manager").Logger(),
		timeout: DefaultExecutionTimeout,
	}
}

// SetTimeout sets the per-execution timeout.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// LoadFromDirectory loads all .js transforms from dir. A missing directory is
// not an error; the manager just stays empty.
func (m *Manager) LoadFromDirectory(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		m.logger.Warn().Str("directory", dir).Msg("transforms directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat transforms directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("transforms path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read transforms directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		if err := m.loadScript(filepath.Join(dir, entry.Name())); err != nil {
			m.logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to load transform")
			continue
		}
		loaded++
	}

	m.logger.Info().Int("loaded", loaded).Str("directory", dir).Msg("transforms loaded")
	return nil
}

func (m *Manager) loadScript(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read transform file: %w", err)
	}

	source := string(content)
	prefix := extractPathDirective(source)
	if prefix == "" {
		return fmt.Errorf("transform missing @path directive")
	}

	// Compile once now to reject broken scripts at startup.
	if _, err := goja.Compile(path, source, true); err != nil {
		return fmt.Errorf("transform does not compile: %w", err)
	}

	script := &Script{
		Name:       strings.TrimSuffix(filepath.Base(path), ".js"),
		PathPrefix: prefix,
		Source:     source,
	}
	m.scripts = append(m.scripts, script)

	m.logger.Info().Str("name", script.Name).Str("pathPrefix", prefix).Msg("transform loaded")
	return nil
}

func extractPathDirective(source string) string {
	matches := pathDirectiveRegex.FindStringSubmatch(source)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// Len returns the number of loaded transforms.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scripts)
}

// Apply runs the first transform whose prefix matches path. On no match, any
// script error, or timeout, the input data is returned unchanged.
func (m *Manager) Apply(path string, data json.RawMessage) json.RawMessage {
	m.mu.RLock()
	var script *Script
	for _, s := range m.scripts {
		if strings.HasPrefix(path, s.PathPrefix) {
			script = s
			break
		}
	}
	m.mu.RUnlock()

	if script == nil {
		return data
	}

	result, err := m.execute(script, path, data)
	if err != nil {
		m.logger.Warn().Err(err).Str("name", script.Name).Str("path", path).Msg("transform failed, delivering original data")
		return data
	}
	return result
}

// execute runs the script on a fresh VM so concurrent deliveries never share
// runtime state.
func (m *Manager) execute(script *Script, path string, data json.RawMessage) (json.RawMessage, error) {
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("snapshot data is not JSON: %w", err)
	}

	vm := newRuntime(m.logger.With().Str("transform", script.Name).Logger())

	timer := time.AfterFunc(m.timeout, func() {
		vm.Interrupt("transform timed out")
	})
	defer timer.Stop()

	if _, err := vm.RunString(script.Source); err != nil {
		return nil, fmt.Errorf("script evaluation: %w", err)
	}

	fnValue := vm.Get("transform")
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("script does not define a transform function")
	}

	value, err := fn(goja.Undefined(), vm.ToValue(path), vm.ToValue(input))
	if err != nil {
		return nil, fmt.Errorf("transform execution: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, fmt.Errorf("transform returned no value")
	}

	result, err := json.Marshal(value.Export())
	if err != nil {
		return nil, fmt.Errorf("transform result not serializable: %w", err)
	}
	return result, nil
}
