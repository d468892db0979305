package engine

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// EnsureReady checks that the engine command can be resolved and that the
// script it is pointed at exists. Progress is written to w.
func EnsureReady(cfg Config, w io.Writer) error {
	if cfg.Command == "" {
		return fmt.Errorf("engine command is not configured")
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return fmt.Errorf("engine command %q not found: %w", cfg.Command, err)
	}
	fmt.Fprintf(w, "engine %s: %s\n", cfg.Command, path)

	if len(cfg.Args) == 0 || strings.HasPrefix(cfg.Args[0], "-") {
		return nil
	}
	script := cfg.Args[0]
	if cfg.Dir != "" && !filepath.IsAbs(script) {
		script = filepath.Join(cfg.Dir, script)
	}
	info, err := os.Stat(script)
	if err != nil {
		return fmt.Errorf("engine script: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("engine script %s is a directory", script)
	}
	fmt.Fprintf(w, "engine script %s: ready\n", script)
	return nil
}
