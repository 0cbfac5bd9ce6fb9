package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"propline/internal/app"
	"propline/internal/config"
	"propline/internal/engine"
	"propline/internal/engine/auth"
	"propline/internal/reminder"
	"propline/internal/repo"
	"propline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the JSON API, file uploads and signed downloads. Also runs configured webhooks and the overdue reminder.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              config.Secret(cfg.Auth.JWTSecretEnv),
					Issuer:                 cfg.Auth.Issuer,
					AllowDevLogin:          devLogin,
					AllowLegacyActorHeader: legacyHeader,
					Logger:                 rt.Engine.Logger,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("%s is required for bearer auth", cfg.Auth.JWTSecretEnv)
				}
				if rt.Files.BaseURL == "" {
					rt.Files.BaseURL = "http://" + addr
					rt.Engine.Files = rt.Files
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Files:    rt.Files,
					Logger:   rt.Engine.Logger,
				})
				if err != nil {
					return err
				}

				server.StartWebhooks(ctx, rt.Engine, cfg.Webhooks, rt.Engine.Logger)
				if cfg.Reminder.Enabled {
					job := &reminder.Job{Source: rt.Engine, Notifier: rt.Engine.Notifier, Logger: rt.Engine.Logger}
					if err := job.Start(ctx, cfg.Reminder.Schedule); err != nil {
						return err
					}
					defer job.Stop()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Propline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose the unauthenticated dev login endpoint")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept the X-Actor-Id header without credentials")
	return cmd
}

func reminderCmd() *cobra.Command {
	rem := &cobra.Command{Use: "reminder", Short: "Overdue task reminders"}
	rem.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Send overdue digests now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				job := &reminder.Job{Source: rt.Engine, Notifier: rt.Engine.Notifier, Logger: rt.Engine.Logger}
				n, err := job.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Sent %d digest(s)\n", n)
				return nil
			})
		},
	})
	rem.AddCommand(&cobra.Command{
		Use:   "next",
		Short: "Show when the reminder fires next",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !rt.Config.Reminder.Enabled {
					fmt.Println("Reminder disabled")
					return nil
				}
				sched, err := config.CronParser.Parse(rt.Config.Reminder.Schedule)
				if err != nil {
					return err
				}
				fmt.Println(sched.Next(time.Now()).Format(time.RFC3339))
				return nil
			})
		},
	})
	return rem
}

func logCmd() *cobra.Command {
	logs := &cobra.Command{Use: "log", Short: "Inspect the event journal"}
	var limit int
	var projectID, evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				items, err := e.ListEvents(ctx, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Project", "Entity", "Actor"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.ProjectID, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events")
	tail.Flags().StringVar(&projectID, "project", "", "project id")
	tail.Flags().StringVar(&evtType, "type", "", "event type")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logs.AddCommand(tail)
	return logs
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default propline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if path := viper.GetString("config"); path != "" {
				cfg, err = config.FromFile(path)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "use-actor <actor-id>",
		Short: "Persist the default actor in the .env file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setEnvValue(envFile(), "PROPLINE_ACTOR_ID", args[0]); err != nil {
				return err
			}
			fmt.Printf("Default actor set to %s in %s\n", args[0], envFile())
			return nil
		},
	})
	return cfgCmd
}
