package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fugue/internal/tmpl"
)

// Preset is a named command template for spawning pane child processes:
// `create_session --preset claude --var model=opus` resolves the preset,
// validates its declared variables, and renders command and args before
// the PTY is spawned. Preset files live in <state-dir>/presets/<name>.yaml
// and may open with a "variables" section declaring required/optional
// template variables.
type Preset struct {
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Classifier string            `yaml:"classifier"`
	Env        map[string]string `yaml:"env"`

	vars map[string]tmpl.VarDef
}

// PresetsDir returns the directory preset files are read from.
func PresetsDir() string {
	return filepath.Join(StateDir(), "presets")
}

// LoadPreset reads and parses a single preset by name. The variables
// section is extracted before YAML parsing so the rest of the file may
// contain template expressions that are not valid YAML on their own.
func LoadPreset(name string) (*Preset, error) {
	return LoadPresetFrom(filepath.Join(PresetsDir(), name+".yaml"))
}

// LoadPresetFrom reads a preset from an explicit path.
func LoadPresetFrom(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, remaining, err := tmpl.ParseVarDefs(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var p Preset
	if err := yaml.Unmarshal([]byte(remaining), &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(p.Command) == "" {
		return nil, fmt.Errorf("preset %s declares no command", path)
	}
	p.vars = defs
	return &p, nil
}

// ListPresets returns the names of every preset file on disk, sorted by
// file name.
func ListPresets() ([]string, error) {
	entries, err := os.ReadDir(PresetsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	return names, nil
}

// Render validates provided variables against the preset's declarations,
// fills in defaults, and renders the command and args through the
// template context.
func (p *Preset) Render(ctx *tmpl.Context, provided map[string]string) (string, []string, error) {
	if err := tmpl.ValidateVars(p.vars, provided); err != nil {
		return "", nil, err
	}
	vars := make(map[string]string, len(p.vars)+len(provided))
	for name, def := range p.vars {
		if def.Default != nil {
			vars[name] = *def.Default
		}
	}
	for k, v := range provided {
		vars[k] = v
	}
	rctx := *ctx
	rctx.Var = vars

	command, err := tmpl.Render(p.Command, &rctx)
	if err != nil {
		return "", nil, fmt.Errorf("render preset command: %w", err)
	}
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		if args[i], err = tmpl.Render(a, &rctx); err != nil {
			return "", nil, fmt.Errorf("render preset arg %d: %w", i, err)
		}
	}
	return command, args, nil
}
