package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/services"
	"github.com/fr0stylo/platesync/internal/ingest"
)

type importOptions struct {
	OfficeID   int64
	UserID     string
	Status     string
	Mode       string
	BatchSize  int
	NoPrecheck bool
	ReportPath string
}

func newImportCmd(global *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a CSV file of plates and print the run summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(opts.Mode)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if opts.BatchSize > 0 {
				cfg.Import.BatchSize = min(opts.BatchSize, ingest.MaxBatchSize)
			}
			if opts.NoPrecheck {
				cfg.Import.Precheck = false
			}

			src, name, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() {
				_ = src.Close()
			}()

			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
			}()

			result, runErr := s.imports.Import(cmd.Context(), src, services.ImportCommand{
				OfficeID: opts.OfficeID,
				UserID:   opts.UserID,
				FileName: name,
				Status:   opts.Status,
				Mode:     mode,
			})
			if result.Job.ID == "" {
				return runErr
			}

			out := cmd.OutOrStdout()
			printSummary(out, result.Job)
			if opts.ReportPath != "" {
				if err := writeReport(cmd.Context(), out, s.imports, result.Job.ID, opts.ReportPath); err != nil {
					return errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().Int64Var(&opts.OfficeID, "office", 0, "office id stamped on imported plates")
	cmd.Flags().StringVar(&opts.UserID, "user", os.Getenv("USER"), "user recorded as creator")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial plate status (default from PLATESYNC_IMPORT_INITIAL_STATUS)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "stream", "input mode: stream or bounded")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "rows per batch, at most 5000 (default from PLATESYNC_IMPORT_BATCH_SIZE)")
	cmd.Flags().BoolVar(&opts.NoPrecheck, "no-precheck", false, "skip the existence precheck and rely on the store's uniqueness")
	cmd.Flags().StringVar(&opts.ReportPath, "report", "", "write the audit report to this path, - for stdout")
	return cmd
}

func parseMode(raw string) (domain.ImportMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "stream", "streaming":
		return domain.ModeStreaming, nil
	case "bounded":
		return domain.ModeBounded, nil
	default:
		return "", fmt.Errorf("invalid --mode %q: want stream or bounded", raw)
	}
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), "stdin", nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open input: %w", err)
	}
	return file, filepath.Base(path), nil
}

func printSummary(w io.Writer, job domain.ImportJob) {
	fmt.Fprintf(w, "job:        %s\n", job.ID)
	fmt.Fprintf(w, "status:     %s\n", job.Status)
	fmt.Fprintf(w, "rows:       %d processed of %d\n", job.ProcessedRows, job.TotalRows)
	fmt.Fprintf(w, "inserted:   %d\n", job.InsertedRows)
	fmt.Fprintf(w, "rejected:   %d (file %d, store %d, concurrent %d)\n",
		job.RejectedRows, job.Summary.FileDuplicates, job.Summary.StoreDuplicates, job.Summary.ConcurrentConflicts)
	fmt.Fprintf(w, "skipped:    %d of %d raw rows\n", job.Summary.SkippedRows, job.Summary.RawRows)
	if job.Error != "" {
		fmt.Fprintf(w, "error:      %s\n", job.Error)
	}
}

// writeReport still runs after an interrupt cancelled ctx; the audit of a
// stopped run is the part the operator needs.
func writeReport(ctx context.Context, out io.Writer, imports *services.ImportService, jobID, path string) error {
	ctx = context.WithoutCancel(ctx)
	if path == "-" {
		return imports.WriteReport(ctx, jobID, out)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := imports.WriteReport(ctx, jobID, file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
