package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ford-at-home/storygen/session"
)

// withRuntime opens the runtime for the duration of fn.
func (a *app) withRuntime(cmd *cobra.Command, fn func(rt *runtime) error) error {
	rt, err := openRuntime(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func newListActiveCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list-active",
		Short: "List ACTIVE sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				summaries, err := rt.svc.ListActive(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), summaries, func(w io.Writer) {
					printSummaries(w, summaries)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum sessions to list (0 for all)")
	return cmd
}

func printSummaries(w io.Writer, summaries []session.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tSTAGE\tTURNS\tPROGRESS\tLAST ACTIVITY")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
			s.SessionID, s.Status, s.Stage, s.TurnCount, s.Progress*100,
			s.LastActivityAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				summary, err := rt.svc.Summary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
					printSummary(w, summary)
				})
			})
		},
	}
}

func printSummary(w io.Writer, s session.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", s.SessionID)
	fmt.Fprintf(tw, "Status:\t%s\n", s.Status)
	fmt.Fprintf(tw, "Stage:\t%s\n", s.Stage)
	fmt.Fprintf(tw, "Turns:\t%d\n", s.TurnCount)
	fmt.Fprintf(tw, "Progress:\t%.0f%%\n", s.Progress*100)
	fmt.Fprintf(tw, "Created:\t%s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Last activity:\t%s\n", s.LastActivityAt.Format(time.RFC3339))
	e := s.Elements
	fmt.Fprintf(tw, "Elements:\tidea=%t depth=%t anecdote=%t hooks=%t hook=%t arc=%t quote=%t ctas=%t cta=%t final=%t\n",
		e.CoreIdea, e.DepthScore, e.PersonalAnecdote, e.Hooks, e.SelectedHook,
		e.NarrativeArc, e.Quote, e.CTAs, e.SelectedCTA, e.FinalText)
	tw.Flush()
}

func newTurnsCmd(a *app) *cobra.Command {
	var after, limit int
	cmd := &cobra.Command{
		Use:   "turns <session-id>",
		Short: "Print the turn log of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				turns, err := rt.svc.Turns(cmd.Context(), args[0], after, limit)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), turns, func(w io.Writer) {
					for _, t := range turns {
						fmt.Fprintf(w, "#%d [%s] %s\n", t.Number, t.Stage, t.Timestamp.Format(time.RFC3339))
						if t.UserInput != "" {
							fmt.Fprintf(w, "  > %s\n", t.UserInput)
						}
						if t.Response != "" {
							fmt.Fprintf(w, "  < %s\n", t.Response)
						}
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&after, "after", 0, "only turns after this ordinal")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum turns (0 for all)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session snapshot document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				data, err := rt.svc.Export(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				return os.WriteFile(out, data, 0o600)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a session snapshot document as a new record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}

			return a.withRuntime(cmd, func(rt *runtime) error {
				summary, err := rt.svc.Import(cmd.Context(), data)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
					fmt.Fprintf(w, "imported %s (%s, %s)\n", summary.SessionID, summary.Status, summary.Stage)
				})
			})
		},
	}
}

func newAbandonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <session-id>",
		Short: "Move an ACTIVE session to ABANDONED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				summary, err := rt.svc.Abandon(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
					fmt.Fprintf(w, "abandoned %s\n", summary.SessionID)
				})
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Remove a session from every tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				if err := rt.svc.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newRevokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <session-id>",
		Short: "Revoke a session (requires security.enabled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(rt *runtime) error {
				if rt.secure == nil {
					return fmt.Errorf("revocation requires security.enabled")
				}
				if err := rt.secure.Revoke(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}
}
