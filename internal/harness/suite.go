package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Suite is a manifest naming scenario files, relative to the manifest.
type Suite struct {
	Name      string   `yaml:"name"`
	Scenarios []string `yaml:"scenarios"`
}

// ScenarioNotFoundError is returned when a suite references a missing file.
type ScenarioNotFoundError struct {
	Suite        string
	ScenarioPath string
	ResolvedPath string
}

func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("suite %q references scenario file %q which does not exist (resolved to: %s)",
		e.Suite, e.ScenarioPath, e.ResolvedPath)
}

// LoadSuite reads a suite manifest and returns the resolved scenario paths.
func LoadSuite(path string) (*Suite, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	var suite Suite
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&suite); err != nil {
		return nil, nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	if len(suite.Scenarios) == 0 {
		return nil, nil, fmt.Errorf("suite %q lists no scenarios", suite.Name)
	}

	dir := filepath.Dir(path)
	paths := make([]string, 0, len(suite.Scenarios))
	for _, p := range suite.Scenarios {
		resolved := p
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(dir, p)
		}
		if _, err := os.Stat(resolved); os.IsNotExist(err) {
			return nil, nil, &ScenarioNotFoundError{Suite: suite.Name, ScenarioPath: p, ResolvedPath: resolved}
		}
		paths = append(paths, resolved)
	}
	return &suite, paths, nil
}

// DiscoverScenarios returns the scenario files under root. A directory is
// scanned for *.yaml and *.yml (not recursively); a file is returned as is.
func DiscoverScenarios(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}
