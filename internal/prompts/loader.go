package prompts

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileEntry is the on-disk shape of one prompts/*.yaml definition.
type fileEntry struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Body    string `yaml:"body"`
	Enabled *bool  `yaml:"enabled"`
}

// Loader reads prompt template YAML files from a directory, falling back to
// the directory next to the running binary when the configured path isn't
// found relative to the working directory (so a container image that bakes
// configs next to the binary still works regardless of CWD).
type Loader struct {
	dir     string
	builtin map[string]*Template
}

// NewLoader returns a Loader rooted at dir. builtin supplies the defaults
// used for any name a YAML file doesn't override, and as the entire prompt
// set when dir is empty or does not exist. Any other read or parse error is
// returned and leaves the registry unchanged.
func NewLoader(dir string, builtin map[string]*Template) *Loader {
	return &Loader{dir: dir, builtin: builtin}
}

// Reload reads every *.yaml file in the loader's directory and replaces reg's
// contents with builtin defaults overlaid by whatever the files define.
func (l *Loader) Reload(reg *Registry) error {
	merged := make(map[string]*Template, len(l.builtin))
	for name, t := range l.builtin {
		cp := *t
		merged[name] = &cp
	}

	if l.dir != "" {
		entries, err := l.readEntries()
		if err != nil {
			if os.IsNotExist(err) {
				reg.ReplaceAll(merged)
				return nil
			}
			return err
		}
		for _, e := range entries {
			enabled := true
			if e.Enabled != nil {
				enabled = *e.Enabled
			}
			merged[e.Name] = &Template{Name: e.Name, Version: e.Version, Body: e.Body, Enabled: enabled}
		}
	}

	reg.ReplaceAll(merged)
	return nil
}

func (l *Loader) readEntries() ([]fileEntry, error) {
	absDir, err := l.resolveDir()
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, err
	}

	var out []fileEntry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(absDir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", de.Name(), err)
		}
		var e fileEntry
		if err := yaml.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("parse prompt file %s: %w", de.Name(), err)
		}
		if e.Name == "" {
			e.Name = fileNameWithoutExt(de.Name())
		}
		out = append(out, e)
	}
	return out, nil
}

// resolveDir tries l.dir as given, then relative to the executable's
// directory, mirroring the fallback the teacher's config loader uses for
// production builds that are invoked from an arbitrary working directory.
func (l *Loader) resolveDir() (string, error) {
	if info, err := os.Stat(l.dir); err == nil && info.IsDir() {
		return l.dir, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", os.ErrNotExist
	}
	candidate := filepath.Join(filepath.Dir(exe), l.dir)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, nil
	}
	return "", os.ErrNotExist
}

func fileNameWithoutExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
