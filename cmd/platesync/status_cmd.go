package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/notify"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	var (
		officeID     int64
		recordStatus string
	)

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show an import job, or count stored plates when no job is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
			}()

			if len(args) == 0 {
				count, err := s.imports.CountRecords(cmd.Context(), domain.RecordFilter{Partition: officeID, Status: recordStatus})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plates: %d\n", count)
				return nil
			}

			job, err := s.imports.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(notify.NewJobPayload(job))
		},
	}
	cmd.Flags().Int64Var(&officeID, "office", 0, "count plates of this office only")
	cmd.Flags().StringVar(&recordStatus, "record-status", "", "count plates with this status only")
	return cmd
}

func newReportCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report <job-id>",
		Short: "Print the audit report of an import job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
			}()
			return writeReport(cmd.Context(), cmd.OutOrStdout(), s.imports, args[0], "-")
		},
	}
}
