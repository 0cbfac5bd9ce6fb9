package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"propline/internal/engine"
	"propline/internal/engine/auth"
	"propline/internal/export"
	"propline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage onboarding projects",
		Long:  "A project is one property onboarding. Creating it seeds every phase with the template tasks.",
	}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectPhasesCmd())
	prj.AddCommand(projectBackfillCmd())
	prj.AddCommand(projectRecomputeCmd())
	prj.AddCommand(projectExportCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.CreateProject(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (random if omitted)")
	cmd.Flags().StringVar(&opts.PropertyID, "property", "", "property id")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&opts.OwnerName, "owner-name", "", "owner display name")
	cmd.Flags().StringVar(&opts.PropertyAddress, "address", "", "property address")
	_ = cmd.MarkFlagRequired("property")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Property", "Owner", "Address", "Progress", "Status"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.PropertyID, p.OwnerID, p.PropertyAddress, fmt.Sprintf("%.1f%%", p.Progress), p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PropertyID, "property", "", "filter by property id")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "filter by owner id")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status (pending, in-progress, completed)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectPhasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases <project-id>",
		Short: "Show phases with completion and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				phases, err := e.ListPhasesWithProgress(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(phases)
				}
				tw := newTable(table.Row{"Phase", "Task", "ID", "Type", "Value", "Status", "Due", "Assignee"})
				for i, ph := range phases {
					if i > 0 {
						tw.AppendSeparator()
					}
					tw.AppendRow(table.Row{fmt.Sprintf("%d. %s (%.1f%%)", ph.Number, ph.Title, ph.CompletionPct)})
					for _, t := range ph.Tasks {
						assignee := t.Assignee.Name
						if assignee == "" {
							assignee = t.Assignee.UserID
						}
						tw.AppendRow(table.Row{"", t.Title, t.ID, t.FieldType, t.FieldValue, t.Status, fmt.Sprintf("%s %s", deref(t.DueDate), t.DueState), assignee})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <project-id>",
		Short: "Create tasks for phases the project is missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				n, err := e.BackfillPhases(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"created": n})
			})
		},
	}
}

func projectRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <project-id>",
		Short: "Recompute progress and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.RecomputeProgress(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export the checklist as an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				phases, err := e.ListPhasesWithProgress(ctx, actor, p.ID)
				if err != nil {
					return err
				}
				if out == "" {
					out = p.PropertyID + "-checklist.xlsx"
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := export.Checklist(f, p, phases); err != nil {
					f.Close()
					os.Remove(out)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <property>-checklist.xlsx)")
	return cmd
}
