package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"propline/internal/app"
	"propline/internal/db"
	"propline/internal/engine"
	"propline/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Propline CLI",
	Long: `Propline tracks the onboarding of rental properties into management.
Core concepts:
- Project: one property being onboarded for one owner; progress is the share of completed tasks.
- Phases: nine fixed stages from contract setup to go-live; every project gets the same catalog.
- Tasks: one field each (text, date, file, checkbox...). A task completes when its field holds a valid value.
- Lock: a filled field is read-only; only an admin with --edit may change it.
- N/A: a task that does not apply is completed with a justification instead of a value.
- Assignment: explicit user first, otherwise the primary user of the phase's default role.
- Due dates: overdue tasks may only move a bounded number of days; every move is logged.
- Event log: journal of every change, view with 'pl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	// Values already in the environment win over the workspace .env file.
	if err := godotenv.Load(envFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: read %s: %v\n", envFile(), err)
	}
	viper.SetEnvPrefix("PROPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func envFile() string {
	return filepath.Join(viper.GetString("workspace"), ".env")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/propline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("admin", false, "act with admin privileges")
	rootCmd.PersistentFlags().Bool("verbose", false, "log engine activity to stderr")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "admin", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(phaseRoleCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(overdueCmd())
	rootCmd.AddCommand(reminderCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliLogger() *log.Logger {
	if viper.GetBool("verbose") {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     cliLogger(),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine, currentActor(ctx, rt.Engine))
	})
}

// currentActor trusts the local operator: --admin grants privileges, and a
// known user contributes its name and admin flag.
func currentActor(ctx context.Context, e engine.Engine) auth.Actor {
	a := auth.Actor{ID: viper.GetString("actor-id"), Admin: viper.GetBool("admin")}
	if u, err := e.GetUser(ctx, a.ID); err == nil {
		a.Name = u.Name
		a.Admin = a.Admin || u.Admin
	}
	return a
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func setEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return godotenv.Write(values, path)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	return &s
}
