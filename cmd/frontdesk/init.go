package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/frontdesk/internal/defaults"
	"github.com/nugget/frontdesk/internal/prompts"
)

// runInit writes a starter config.yaml and the default system prompt
// into dir. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing frontdesk in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "db"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := []struct {
		name    string
		content []byte
		mode    os.FileMode
	}{
		// The config may carry API keys.
		{"config.yaml", defaults.ConfigYAML, 0o600},
		{"system_prompt.md", []byte(prompts.ConciergeSystemPrompt("") + "\n"), 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content, f.mode)
		if err != nil {
			return err
		}
		mark := "✓"
		if !wrote {
			mark = "-"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then run 'frontdesk seed' and 'frontdesk serve'.")
	fmt.Fprintln(w, "Set conversation.system_prompt_file to use the copied system_prompt.md.")
	return nil
}

// writeIfMissing writes content to path unless it already exists. It
// reports whether it wrote.
func writeIfMissing(path string, content []byte, mode os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
