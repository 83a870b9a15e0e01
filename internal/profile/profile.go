// Package profile loads declarative sync profiles from CUE files.
//
// A profile names the source and target databases plus run options, so a
// recurring sync can live in version control instead of a shell history:
//
//	profile: {
//		source:   "postgres://app@primary/app"
//		target:   "postgres://app@replica/app"
//		strategy: "merge"
//		batchSize: 500
//		exclude: ["audit_log"]
//	}
//
// All CUE files in the profile directory are loaded as one instance, so a
// profile can be split across files and share definitions.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/dbsync/internal/datasync"
)

// Profile is a declarative description of one sync run.
type Profile struct {
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Strategy  string   `json:"strategy"`
	BatchSize int      `json:"batchSize"`
	// CreateMissingColumns defaults to true when absent.
	CreateMissingColumns *bool    `json:"createMissingColumns"`
	Include              []string `json:"include"`
	Exclude              []string `json:"exclude"`
}

// Options converts the profile into datasync options.
func (p *Profile) Options() datasync.Options {
	opts := datasync.DefaultOptions()
	if p.Strategy != "" {
		opts.Strategy = datasync.Strategy(p.Strategy)
	}
	if p.BatchSize > 0 {
		opts.BatchSize = p.BatchSize
	}
	if p.CreateMissingColumns != nil {
		opts.CreateMissingColumns = *p.CreateMissingColumns
	}
	opts.Include = p.Include
	opts.Exclude = p.Exclude
	return opts
}

// Load reads and validates the profile from a directory of CUE files.
func Load(dir string) (*Profile, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("profile directory not found: %s", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("access profile directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan profile directory: %w", err)
	}
	if len(cueFiles) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("build CUE value: %w", err)
	}

	profileVal := value.LookupPath(cue.ParsePath("profile"))
	if !profileVal.Exists() {
		return nil, fmt.Errorf("no \"profile\" field in %s", dir)
	}

	var p Profile
	if err := profileVal.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if strings.TrimSpace(p.Source) == "" {
		return fmt.Errorf("profile: source is required")
	}
	if strings.TrimSpace(p.Target) == "" {
		return fmt.Errorf("profile: target is required")
	}
	if p.Strategy != "" {
		if _, err := datasync.ParseStrategy(p.Strategy); err != nil {
			return fmt.Errorf("profile: strategy: %w", err)
		}
	}
	if p.BatchSize < 0 {
		return fmt.Errorf("profile: batchSize must be positive, got %d", p.BatchSize)
	}
	return nil
}

func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cue") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
