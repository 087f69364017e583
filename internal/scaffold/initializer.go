// Package scaffold creates a starter chalk project: chalk.yml plus an
// example command agent.
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/chalk/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// AgentsDir holds the generated agent scripts.
const AgentsDir = "agents"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string // relative to the project directory
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes the starter project into dir and returns the created paths.
// With force, an existing chalk.yml and agents/ directory are removed first.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := removeExisting(dir); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	files, err := templateFiles()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, AgentsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", AgentsDir, err)
	}

	created := make([]string, 0, len(files))
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	// The generated config must pass the same validation `chalk run` applies.
	if _, err := config.Load(filepath.Join(dir, config.DefaultFile)); err != nil {
		return nil, fmt.Errorf("generated %s is invalid: %w", config.DefaultFile, err)
	}

	return created, nil
}

func removeExisting(dir string) error {
	if err := os.Remove(filepath.Join(dir, config.DefaultFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", config.DefaultFile, err)
	}
	if err := os.RemoveAll(filepath.Join(dir, AgentsDir)); err != nil {
		return fmt.Errorf("failed to remove %s/ directory: %w", AgentsDir, err)
	}
	return nil
}

func templateFiles() ([]FileInfo, error) {
	chalkYml, err := templatesFS.ReadFile("templates/chalk.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read chalk.yml template: %w", err)
	}
	reviewer, err := templatesFS.ReadFile("templates/example_reviewer.sh.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read agent template: %w", err)
	}

	return []FileInfo{
		{Path: config.DefaultFile, Content: chalkYml, Permissions: 0644},
		{Path: filepath.Join(AgentsDir, "example_reviewer.sh"), Content: reviewer, Permissions: 0755},
	}, nil
}

// PrintSuccess lists the created files and next steps.
func PrintSuccess(w io.Writer, created []string) {
	fmt.Fprintln(w, "\nInitialized chalk project")
	fmt.Fprintln(w, "\nCreated:")
	for _, path := range created {
		fmt.Fprintf(w, "  ✓ %s\n", path)
	}
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Add agents for your pipeline roles to chalk.yml")
	fmt.Fprintln(w, "  2. Try it: chalk run --post question_request --data '{\"topic\": \"Go\"}'")
}
