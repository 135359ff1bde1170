//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package sandbox

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-scriptflow/log"
	"trpc.group/trpc-go/trpc-scriptflow/task"
	atrace "trpc.group/trpc-go/trpc-scriptflow/telemetry/trace"
)

// Workspace is an isolated per-attempt directory the script runs in.
// Artifacts the script wants to keep go under out/.
type Workspace struct {
	// ID is the sanitized identifier the directory name derives from.
	ID string
	// Path is the absolute workspace directory.
	Path string
}

// CreateWorkspace creates a fresh directory for one attempt under root.
// Attempts of the same execution folder share a parent directory but never
// a working directory, so state cannot leak between retries.
func CreateWorkspace(ctx context.Context, root, executionFolder string, attempt int) (Workspace, error) {
	_, span := atrace.Tracer.Start(ctx, SpanWorkspaceCreate)
	defer span.End()

	id := sanitizeID(executionFolder)
	if id == "" {
		return Workspace{}, fmt.Errorf("execution folder %q yields an empty workspace id", executionFolder)
	}
	path := filepath.Join(root, id, fmt.Sprintf("attempt_%03d", attempt))
	abs, err := filepath.Abs(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, DirOut), 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}

	span.SetAttributes(
		attribute.String(AttrExecID, id),
		attribute.Int(AttrAttempt, attempt),
		attribute.String(AttrPath, abs),
	)
	return Workspace{ID: id, Path: abs}, nil
}

// WriteScript places the harnessed script into the workspace and returns
// its absolute path. The name is fixed; callers must not smuggle path
// separators through it.
func (w Workspace) WriteScript(code string) (string, error) {
	path := filepath.Join(w.Path, ScriptFileName)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}

// Cleanup removes the workspace directory.
func (w Workspace) Cleanup(ctx context.Context) error {
	_, span := atrace.Tracer.Start(ctx, SpanWorkspaceCleanup)
	defer span.End()
	span.SetAttributes(attribute.String(AttrPath, w.Path))

	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("cleanup workspace %s: %w", w.Path, err)
	}
	return nil
}

// CollectArtifacts gathers files matching the glob patterns, relative to
// the workspace root. Patterns follow doublestar syntax ("out/**",
// "*.png"). Unreadable entries are skipped with a warning rather than
// failing the run.
func (w Workspace) CollectArtifacts(ctx context.Context, patterns []string) ([]task.Artifact, error) {
	_, span := atrace.Tracer.Start(ctx, SpanWorkspaceCollect)
	defer span.End()

	fsys := os.DirFS(w.Path)
	seen := make(map[string]bool)
	var artifacts []task.Artifact
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("bad artifact pattern %q: %w", pattern, err)
		}
		for _, rel := range matches {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			full := filepath.Join(w.Path, filepath.FromSlash(rel))
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				if err != nil {
					log.Warnf("skipping artifact %s: %v", rel, err)
				}
				continue
			}
			artifacts = append(artifacts, task.Artifact{
				Name:     rel,
				Path:     full,
				MIMEType: mimeTypeOf(rel),
			})
		}
	}
	span.SetAttributes(attribute.Int(AttrCount, len(artifacts)))
	return artifacts, nil
}

func mimeTypeOf(name string) string {
	mt := mime.TypeByExtension(filepath.Ext(name))
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}

// sanitizeID maps an execution folder name onto a filesystem-safe
// identifier. Anything outside [A-Za-z0-9._-] becomes an underscore and
// leading dots are stripped so the id can never escape the root.
func sanitizeID(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.TrimLeft(mapped, ".")
}
