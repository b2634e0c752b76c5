package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracecheck/internal/config"
	"tracecheck/internal/db"
	"tracecheck/internal/migrate"
	"tracecheck/internal/report"
	"tracecheck/internal/rules"
	"tracecheck/internal/server"
	"tracecheck/internal/store"
	"tracecheck/internal/trace"
	"tracecheck/internal/validator"
)

var rootCmd = &cobra.Command{
	Use:   "tc",
	Short: "Tracecheck CLI",
	Long: `Tracecheck validates simulation traces of ROS2-style pub/sub systems
against a multi-level rule catalog.
- Trace: a JSONL file of timestamped events (node inits, publishes,
  deliveries, QoS negotiations, lifecycle transitions, errors).
- Rules: named checks grouped into structure, behavior, performance,
  timing and qos categories.
- Levels: basic, standard and comprehensive; each level runs every rule
  of the levels below it plus its own.
- Runs: each validation is recorded in the workspace database, view
  with 'tc runs list' and 'tc runs show'.
- Event log: diary of recorded and deleted runs, view with 'tc log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACECHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to YAML validation config")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func validateCmd() *cobra.Command {
	var levelName, output string
	var workers int
	var gate float64
	var noStore bool
	cmd := &cobra.Command{
		Use:   "validate <trace>",
		Short: "Validate a trace file",
		Long:  "Run the rule catalog at the chosen level against a JSONL trace, record the run, and print the report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := rules.ParseLevel(levelName)
			if err != nil {
				return err
			}
			cfg, err := loadValidationConfig()
			if err != nil {
				return err
			}
			t, err := trace.Load(args[0])
			if err != nil {
				return err
			}
			engine := validator.New(nil)
			engine.Workers = workers
			rep, err := engine.Validate(cmd.Context(), t, level, cfg)
			if err != nil {
				return err
			}
			if !noStore {
				err = withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
					run, err := st.SaveRun(ctx, rep, args[0], t.Len())
					if err != nil {
						return err
					}
					if !viper.GetBool("json") {
						fmt.Printf("Recorded run %s\n", run.ID)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			if output != "" {
				if err := rep.Save(output); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				if err := printJSON(rep); err != nil {
					return err
				}
			} else {
				rep.PrintSummary(os.Stdout)
			}
			return checkGate(rep, gate)
		},
	}
	cmd.Flags().StringVar(&levelName, "level", "standard", "validation level (basic, standard, comprehensive)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the JSON report to this path")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel rule evaluations (0 = number of CPUs)")
	cmd.Flags().Float64Var(&gate, "gate", 1.0, "minimum success rate; exit non-zero below it")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the workspace database")
	return cmd
}

func rulesCmd() *cobra.Command {
	var levelName string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Show the rule catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := rules.Builtin()
			active := registry.All()
			if levelName != "" {
				level, err := rules.ParseLevel(levelName)
				if err != nil {
					return err
				}
				active, err = registry.RulesFor(level)
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				type ruleInfo struct {
					Name     string `json:"name"`
					Category string `json:"category"`
					MinLevel string `json:"min_level"`
				}
				out := make([]ruleInfo, 0, len(active))
				for _, r := range active {
					out = append(out, ruleInfo{r.Name(), string(r.Category()), r.MinLevel().String()})
				}
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Rule", "Category", "Min Level"})
			for _, r := range active {
				tw.AppendRow(table.Row{r.Name(), string(r.Category()), r.MinLevel().String()})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&levelName, "level", "", "only rules active at this level")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded validation runs",
	}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	runs.AddCommand(runsDeleteCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				items, err := st.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Level", "Source", "Rules", "Failed", "Success"})
				for _, r := range items {
					tw.AppendRow(table.Row{
						r.ID, r.CreatedAt, r.Level, r.TraceSource,
						r.TotalRules, r.FailedRules, fmt.Sprintf("%.1f%%", r.SuccessRate*100),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max runs to list (0 = all)")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its full report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				run, rep, err := st.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "report": rep})
				}
				fmt.Printf("Run %s (%s, %s)\n", run.ID, run.Level, run.CreatedAt)
				if run.TraceSource != "" {
					fmt.Printf("Trace: %s (%d events)\n", run.TraceSource, run.TraceEvents)
				}
				rep.PrintSummary(os.Stdout)
				return nil
			})
		},
	}
	return cmd
}

func runsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				if err := st.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("Deleted run %s\n", args[0])
				}
				return nil
			})
		},
	}
	return cmd
}

func traceCmd() *cobra.Command {
	tr := &cobra.Command{
		Use:   "trace",
		Short: "Inspect trace files",
	}
	tr.AddCommand(traceInfoCmd())
	return tr
}

func traceInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <trace>",
		Short: "Summarize a trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := trace.Load(args[0])
			if err != nil {
				return err
			}
			kinds := map[string]int{}
			actors := map[string]bool{}
			for _, e := range t.Events() {
				kinds[string(e.Kind)]++
				if e.Actor != "" {
					actors[e.Actor] = true
				}
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"events":   t.Len(),
					"duration": t.Duration(),
					"actors":   len(actors),
					"topics":   t.Topics(),
					"kinds":    kinds,
				})
			}
			fmt.Printf("Events: %d over %.3fs, %d actors\n", t.Len(), t.Duration(), len(actors))
			fmt.Printf("Topics: %s\n", strings.Join(t.Topics(), ", "))
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Kind", "Count"})
			for _, e := range t.Events() {
				if c, ok := kinds[string(e.Kind)]; ok {
					tw.AppendRow(table.Row{string(e.Kind), c})
					delete(kinds, string(e.Kind))
				}
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				events, err := st.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Run", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.RunID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TRACECHECK_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TRACECHECK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   validator.New(nil),
				Store:    store.New(conn),
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Tracecheck API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// checkGate turns an insufficient success rate into a non-zero exit.
// The default gate of 1.0 fails the command on any failed rule.
func checkGate(rep *report.Report, gate float64) error {
	if rep.SuccessRate < gate {
		return fmt.Errorf("success rate %.1f%% below gate %.1f%% (%d of %d rules failed)",
			rep.SuccessRate*100, gate*100, rep.FailedRules, rep.TotalRules)
	}
	return nil
}

// --- helpers ---

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, store.New(conn))
}

func loadValidationConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
