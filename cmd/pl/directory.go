package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"propline/internal/engine"
	"propline/internal/engine/auth"
)

func templateCmd() *cobra.Command {
	tmpl := &cobra.Command{Use: "template", Short: "Inspect template tasks"}
	var phase int
	list := &cobra.Command{
		Use:   "list",
		Short: "List template tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListTemplates(ctx, phase)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Phase", "Pos", "Title", "Type", "Category", "Default role"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.PhaseNumber, t.Position, t.Title, t.FieldType, t.Category, deref(t.DefaultRoleID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&phase, "phase", 0, "only this phase")
	tmpl.AddCommand(list)
	return tmpl
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				users, err := e.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable(table.Row{"ID", "Name", "Email", "Phone", "Role", "Admin"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Phone, u.RoleID, u.Admin})
				}
				tw.Render()
				return nil
			})
		},
	})

	var opts engine.UserOptions
	set := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Create or update a user (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				u, err := e.UpsertUser(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	set.Flags().StringVar(&opts.Name, "name", "", "display name")
	set.Flags().StringVar(&opts.Email, "email", "", "email address")
	set.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	set.Flags().Int64Var(&opts.TelegramChatID, "telegram", 0, "Telegram chat id")
	set.Flags().StringVar(&opts.RoleID, "role", "", "role id")
	set.Flags().BoolVar(&opts.Admin, "admin-user", false, "grant admin")
	_ = set.MarkFlagRequired("name")
	user.AddCommand(set)
	return user
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Manage roles"}
	role.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				roles, err := e.ListRoles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := newTable(table.Row{"ID", "Name", "Primary user"})
				for _, r := range roles {
					tw.AppendRow(table.Row{r.ID, r.Name, r.PrimaryUserID})
				}
				tw.Render()
				return nil
			})
		},
	})

	var opts engine.RoleOptions
	set := &cobra.Command{
		Use:   "set <role-id>",
		Short: "Create or update a role (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				r, err := e.UpsertRole(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	set.Flags().StringVar(&opts.Name, "name", "", "role name")
	set.Flags().StringVar(&opts.PrimaryUserID, "primary", "", "primary user id")
	_ = set.MarkFlagRequired("name")
	role.AddCommand(set)
	return role
}

func phaseRoleCmd() *cobra.Command {
	pr := &cobra.Command{Use: "phase-role", Short: "Map phases to default roles"}
	pr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List phase roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListPhaseRoles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Phase", "Role"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.PhaseNumber, p.RoleID})
				}
				tw.Render()
				return nil
			})
		},
	})

	var roleID string
	set := &cobra.Command{
		Use:   "set <phase>",
		Short: "Set or clear the default role of a phase (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("phase must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.SetPhaseRole(ctx, actor, phase, roleID); err != nil {
					return err
				}
				if roleID == "" {
					fmt.Printf("Cleared default role of phase %d\n", phase)
				} else {
					fmt.Printf("Phase %d defaults to role %s\n", phase, roleID)
				}
				return nil
			})
		},
	}
	set.Flags().StringVar(&roleID, "role", "", "role id (empty clears)")
	pr.AddCommand(set)
	return pr
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var userID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (admin); the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				plain, key, err := e.CreateAPIKey(ctx, actor, userID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plain, "api_key": key})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "user id the key acts as")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("user")
	keys.AddCommand(create)

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListAPIKeys(ctx, listUser)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "only this user")
	keys.AddCommand(list)

	keys.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.RevokeAPIKey(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	})
	return keys
}

func overdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List overdue tasks grouped by assignee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				groups, err := e.OverdueTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := newTable(table.Row{"Assignee", "Project", "Phase", "Task", "Due"})
				for _, g := range groups {
					for _, t := range g.Tasks {
						tw.AppendRow(table.Row{g.User.Name, t.ProjectID, t.PhaseNumber, t.Title, deref(t.DueDate)})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
}
