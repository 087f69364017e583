package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/chalk/internal/config"
)

// CheckExisting returns an error if dir already holds chalk.yml or agents/.
func CheckExisting(dir string) error {
	var existing []string

	if _, err := os.Stat(filepath.Join(dir, config.DefaultFile)); err == nil {
		existing = append(existing, config.DefaultFile)
	}
	if info, err := os.Stat(filepath.Join(dir, AgentsDir)); err == nil && info.IsDir() {
		existing = append(existing, AgentsDir+"/")
	}

	if len(existing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("project already initialized\n\nFound existing")
	if len(existing) == 1 {
		fmt.Fprintf(&b, ": %s\n", existing[0])
	} else {
		b.WriteString(" files:\n")
		for _, file := range existing {
			fmt.Fprintf(&b, "  - %s\n", file)
		}
	}
	b.WriteString("\nUse 'chalk init --force' to reinitialize (this will overwrite existing configuration)")
	return fmt.Errorf("%s", b.String())
}
