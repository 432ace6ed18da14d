package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-merger/internal/db"
	"github.com/heimdex/heimdex-merger/internal/jobs"
)

func newJobsCommand(cc *commandContext) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List merge jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openJobs(cc)
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := svc.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if list == nil {
					list = []*jobs.Job{}
				}
				return enc.Encode(list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No merge jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(list, isTerminalWriter(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")

	cmd.AddCommand(newJobsCancelCommand(cc))
	return cmd
}

func newJobsCancelCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending merge job",
		Long: "Cancel a pending merge job. Running jobs belong to the daemon and are\n" +
			"cancelled through its API (DELETE /merges/{id}).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openJobs(cc)
			if err != nil {
				return err
			}
			defer closeDB()

			job, err := svc.Cancel(cmd.Context(), args[0])
			switch {
			case errors.Is(err, jobs.ErrNotFound):
				return fmt.Errorf("no merge job %s", args[0])
			case errors.Is(err, jobs.ErrNotCancellable):
				return fmt.Errorf("merge job %s already %s", args[0], job.Status)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, job.Status)
			return nil
		},
	}
}

// openJobs opens the store without recovering interrupted jobs, so it is
// safe next to a running daemon.
func openJobs(cc *commandContext) (*jobs.Service, func(), error) {
	cfg, err := cc.config()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	database, err := db.New(cfg.DBPath(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	return jobs.NewService(jobs.NewRepository(database.Conn()), nil), func() { database.Close() }, nil
}

func renderJobs(list []*jobs.Job, color bool) string {
	rows := make([][]string, len(list))
	for i, j := range list {
		detail := filepath.Base(j.OutputPath)
		if j.OutputPath == "" {
			detail = ""
		}
		if j.Error != "" {
			detail = j.ErrorCode + ": " + j.Error
		}
		rows[i] = []string{
			shortID(j.ID),
			colorStatus(j.Status, color),
			strconv.Itoa(j.Progress) + "%",
			strconv.Itoa(len(j.Clips)),
			j.ProjectName,
			truncate(detail, 48),
			j.UpdatedAt.Local().Format(time.DateTime),
		}
	}
	return renderTable(
		[]string{"ID", "STATUS", "PROGRESS", "CLIPS", "PROJECT", "OUTPUT / ERROR", "UPDATED"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
