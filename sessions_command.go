package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"go.aimuz.me/autocap/internal/app"
	"go.aimuz.me/autocap/subtitle"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved caption sessions",
	}
	cmd.AddCommand(newSessionsListCommand(ctx))
	cmd.AddCommand(newSessionsShowCommand(ctx))
	cmd.AddCommand(newSessionsExportCommand(ctx))
	cmd.AddCommand(newSessionsDeleteCommand(ctx))
	return cmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *app.Service) error {
				records, err := svc.ListSessions()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(records)
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "No saved sessions")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.ID,
						r.Title,
						r.CreatedAt.Local().Format("2006-01-02 15:04"),
						strconv.Itoa(r.LineCount),
						r.Language,
						r.AudioSource,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Created", "Lines", "Language", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Write sessions as JSON")
	return cmd
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved session as SRT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *app.Service) error {
				rec, err := svc.GetSession(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s, %d lines)\n\n", rec.Title, rec.AudioSource, rec.LineCount)
				fmt.Fprint(out, rec.SubtitleData)
				return nil
			})
		},
	}
}

func newSessionsExportCommand(ctx *commandContext) *cobra.Command {
	var formatFlag, outFlag string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a saved session as SRT or WebVTT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := subtitle.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *app.Service) error {
				data, err := svc.ExportSession(args[0], format)
				if err != nil {
					return err
				}
				if outFlag == "" || outFlag == "-" {
					_, err := fmt.Fprint(cmd.OutOrStdout(), data)
					return err
				}
				if err := os.WriteFile(outFlag, []byte(data), 0644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", outFlag)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&formatFlag, "format", "srt", "Export format: srt or vtt")
	cmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output file, stdout when empty")
	return cmd
}

func newSessionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete saved sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *app.Service) error {
				for _, id := range args {
					if err := svc.DeleteSession(id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}
