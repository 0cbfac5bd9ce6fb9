package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"propline/internal/engine"
	"propline/internal/engine/auth"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Work on onboarding tasks",
		Long:  "Fill task fields, attach files, assign, reschedule or mark tasks N/A. Filled fields are read-only unless an admin passes --edit.",
	}
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskAttachCmd())
	task.AddCommand(taskDetachCmd())
	task.AddCommand(taskURLCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskAssigneeCmd())
	task.AddCommand(taskRescheduleCmd())
	task.AddCommand(taskLogsCmd())
	task.AddCommand(taskNACmd())
	task.AddCommand(taskClearNACmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var value, notes string
	var edit, complete bool
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Set a field value and/or notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateFieldOptions{TaskID: args[0], EditRequested: edit, MarkComplete: complete}
			if cmd.Flags().Changed("value") {
				opts.Value = optionalString(value)
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = optionalString(notes)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.UpdateTaskField(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Task %s: %s\n", res.Task.ID, res.Status)
				fmt.Printf("Phase %d: %.1f%% -> %.1f%%\n", res.Task.PhaseNumber, res.PhaseCompletion.Before, res.PhaseCompletion.After)
				fmt.Printf("Project: %.1f%% -> %.1f%% (%s)\n", res.ProjectProgress.Before, res.ProjectProgress.After, res.ProjectStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "field value (empty clears)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&edit, "edit", false, "request an edit of a filled field (admin)")
	cmd.Flags().BoolVar(&complete, "complete", false, "mark complete on the strength of the notes")
	return cmd
}

func taskAttachCmd() *cobra.Command {
	var edit bool
	cmd := &cobra.Command{
		Use:   "attach <task-id> <file>",
		Short: "Attach a file to a file task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.AttachTaskFile(ctx, actor, engine.AttachFileOptions{
					TaskID:        args[0],
					Filename:      filepath.Base(args[1]),
					EditRequested: edit,
				}, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&edit, "edit", false, "replace an existing attachment (admin)")
	return cmd
}

func taskDetachCmd() *cobra.Command {
	var edit bool
	cmd := &cobra.Command{
		Use:   "detach <task-id>",
		Short: "Remove the attachment of a file task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.DetachTaskFile(ctx, actor, args[0], edit)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&edit, "edit", false, "request an edit of the filled field (admin)")
	return cmd
}

func taskURLCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "url <task-id>",
		Short: "Print a time-limited download link for the attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				link, err := e.TaskFileURL(ctx, args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Println(link)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "link lifetime (default from config)")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var userID string
	var saveTemplate bool
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a task to a user; omit --user to unassign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.AssignOptions{TaskID: args[0], SaveAsTemplate: saveTemplate}
			if userID != "" {
				opts.UserID = optionalString(userID)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.AssignTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().BoolVar(&saveTemplate, "save-template", false, "store the user's role as the template default (admin)")
	return cmd
}

func taskAssigneeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assignee <task-id>",
		Short: "Show who is responsible for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				a, err := e.ResolveAssignee(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func taskRescheduleCmd() *cobra.Command {
	var date, reason string
	cmd := &cobra.Command{
		Use:   "reschedule <task-id>",
		Short: "Set or move a due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				entry, err := e.RescheduleTask(ctx, actor, engine.RescheduleOptions{
					TaskID:     args[0],
					NewDueDate: date,
					Reason:     reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "new due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the date moves")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskLogsCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "logs [task-id]",
		Short: "Show reschedule history of a task or a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := ""
			if len(args) == 1 {
				taskID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				logs, err := e.ListRescheduleLogs(ctx, taskID, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				tw := newTable(table.Row{"When", "Task", "From", "To", "Delay", "By", "Reason"})
				for _, l := range logs {
					from := deref(l.PreviousDueDate)
					if from == "" && l.BaseDueDate != nil {
						from = "(original " + *l.BaseDueDate + ")"
					}
					tw.AppendRow(table.Row{l.CreatedAt, l.TaskID, from, l.NewDueDate, l.DaysDelayed, l.ActorName, l.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (when no task is given)")
	return cmd
}

func taskNACmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "na <task-id>",
		Short: "Mark a task not applicable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.MarkNotApplicable(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "justification")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskClearNACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-na <task-id>",
		Short: "Clear the not-applicable override (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				t, err := e.ClearNotApplicable(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAddCmd() *cobra.Command {
	var opts engine.AddTaskOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a template task to a phase (admin)",
		Long:  "Upserts the template by phase and title. With --project the task is also added to that project.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.AddTaskToPhase(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&opts.PhaseNumber, "phase", 0, "phase number (1-9)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.FieldType, "type", "text", "field type")
	cmd.Flags().StringVar(&opts.Category, "category", "", "display category")
	cmd.Flags().StringVar(&opts.DefaultRoleID, "role", "", "default role id")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "also add to this project")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task from its project (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.DeleteTask(ctx, actor, args[0], confirm); err != nil {
					return err
				}
				fmt.Printf("Deleted task %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	return cmd
}
