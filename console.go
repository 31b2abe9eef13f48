package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"inventorybot/internal/services/report"
)

// consolePresenter prints conversation output for the offline ingest command
type consolePresenter struct {
	out io.Writer
	dir string
}

func (p *consolePresenter) Prompt(_ context.Context, _ int64, text string, options []report.Option) error {
	if _, err := fmt.Fprintln(p.out, text); err != nil {
		return err
	}
	for _, opt := range options {
		if _, err := fmt.Fprintf(p.out, "  - %s\n", opt.Label); err != nil {
			return err
		}
	}
	return nil
}

func (p *consolePresenter) PlainMessage(_ context.Context, _ int64, text string) error {
	_, err := fmt.Fprintln(p.out, text)
	return err
}

func (p *consolePresenter) Attachment(_ context.Context, _ int64, filename string, data []byte) error {
	path := filepath.Join(p.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	_, err := fmt.Fprintf(p.out, "Failure ledger written to %s\n", path)
	return err
}
