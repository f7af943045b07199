package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// waitDelay bounds how long a timed out plugin may keep its output pipes open.
const waitDelay = 2 * time.Second

// execPlugin runs an external executable described by a manifest.
type execPlugin struct {
	manifest   Manifest
	entrypoint string
	config     map[string]any
	timeout    time.Duration
}

// LoadManifest reads and validates a plugin.yaml (or plugin.json) manifest.
func LoadManifest(manifestPath string) (Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if filepath.Ext(manifestPath) == ".json" {
		if err := json.Unmarshal(data, &manifest); err != nil {
			return Manifest{}, fmt.Errorf("parse json manifest: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return Manifest{}, fmt.Errorf("parse yaml manifest: %w", err)
		}
	}

	// Validate required fields
	if manifest.Name == "" {
		return Manifest{}, fmt.Errorf("manifest missing required field: name")
	}
	if manifest.Version == "" {
		return Manifest{}, fmt.Errorf("manifest missing required field: version")
	}
	if manifest.Entrypoint == "" {
		return Manifest{}, fmt.Errorf("manifest missing required field: entrypoint")
	}
	return manifest, nil
}

func loadExec(manifestPath string, cfg map[string]any, timeout time.Duration) (*execPlugin, error) {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	// Resolve entrypoint path
	entrypoint := manifest.Entrypoint
	if !filepath.IsAbs(entrypoint) {
		entrypoint = filepath.Join(filepath.Dir(manifestPath), entrypoint)
	}
	if _, err := os.Stat(entrypoint); err != nil {
		return nil, fmt.Errorf("entrypoint not found: %s", entrypoint)
	}

	resolved, err := resolveConfig(manifest.Config, cfg)
	if err != nil {
		return nil, err
	}

	return &execPlugin{
		manifest:   manifest,
		entrypoint: entrypoint,
		config:     resolved,
		timeout:    timeout,
	}, nil
}

// resolveConfig applies manifest defaults to cfg and checks required fields.
func resolveConfig(fields []ConfigField, cfg map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(cfg)+len(fields))
	for k, v := range cfg {
		out[k] = v
	}
	for _, f := range fields {
		if _, ok := out[f.Name]; ok {
			continue
		}
		if f.Required {
			return nil, fmt.Errorf("missing required config field: %s", f.Name)
		}
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out, nil
}

func (p *execPlugin) Run(ctx context.Context, snap *snapshot.Snapshot, branch string) (Result, error) {
	req := Request{
		Action: "run",
		Repo:   snap.RepoID,
		Branch: branch,
		Files:  make([]RequestFile, len(snap.Files)),
		Config: p.config,
	}
	for i, f := range snap.Files {
		req.Files[i] = RequestFile{Path: f.Path, Content: string(f.Content), Fingerprint: f.Fingerprint}
	}

	requestData, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("serialize request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.entrypoint)
	cmd.Dir = filepath.Dir(p.entrypoint)
	cmd.Stdin = bytes.NewReader(requestData)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("plugin execution timed out after %v", p.timeout)
		}
		return Result{}, fmt.Errorf("plugin execution failed: %w (stderr: %s)", err, stderr.String())
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("parse plugin response: %w (output: %s)", err, stdout.String())
	}
	if !resp.Success {
		return Result{}, fmt.Errorf("plugin reported failure: %s", resp.Error)
	}

	return Result{Name: p.manifest.Name, Result: resp.Result}, nil
}
