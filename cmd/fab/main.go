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

	"fabline/internal/app"
	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/domain"
	"fabline/internal/engine"
	"fabline/internal/migrate"
	"fabline/internal/repo"
	"fabline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fab",
	Short: "Fabline CLI",
	Long: `Fabline runs custom-fabrication projects from blueprint to delivery.
A project moves pending_blueprint -> pending_costing -> pending_customer_approval
-> approved -> fabrication -> completed. Blueprints and costings are immutable
versioned documents; the customer approves or requests revisions with feedback;
approval locks a payment plan and generates the staged schedule. Every
transition is audited and emitted to the event log ('fab log tail').`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FABLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", "admin", "actor role")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the workspace's single project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(blueprintCmd())
	rootCmd.AddCommand(costingCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(reviseCmd())
	rootCmd.AddCommand(fabricateCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(paymentsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliActor() engine.Actor {
	return engine.Actor{
		ID:   viper.GetString("actor-id"),
		Role: viper.GetString("actor-role"),
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectCancelCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, category, customerRef, siteAddress string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project from an intake payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(id))
			p, err := e.CreateProject(cmd.Context(), engine.CreateProjectOptions{
				ID:          id,
				Category:    category,
				CustomerRef: customerRef,
				SiteAddress: siteAddress,
				Actor:       cliActor(),
			})
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when omitted)")
	cmd.Flags().StringVar(&category, "category", "", "fabrication category")
	cmd.Flags().StringVar(&customerRef, "customer", "", "customer reference")
	cmd.Flags().StringVar(&siteAddress, "site", "", "site address")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Category", "Status", "Blueprint", "Costing", "Plan"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Category, p.Status, p.BlueprintVersion, p.CostingVersion, p.PaymentPlan})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStatusHistory(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Notes"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.TS, h.FromStatus, h.ToStatus, h.ActorID, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Cancel(ctx, e.Config.Project.ID, reason, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func blueprintCmd() *cobra.Command {
	bp := &cobra.Command{Use: "blueprint", Short: "Manage blueprint versions"}
	bp.AddCommand(blueprintAttachCmd())
	bp.AddCommand(artifactHistoryCmd(domain.KindBlueprint))
	return bp
}

func blueprintAttachCmd() *cobra.Command {
	var filename, uri, notes string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a new blueprint version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, a, err := e.AttachBlueprint(ctx, engine.AttachArtifactOptions{
					ProjectID: e.Config.Project.ID,
					Filename:  filename,
					URI:       uri,
					Notes:     notes,
					Actor:     cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "artifact": a})
			})
		},
	}
	cmd.Flags().StringVar(&filename, "file", "", "document filename")
	cmd.Flags().StringVar(&uri, "uri", "", "storage URI")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func costingCmd() *cobra.Command {
	c := &cobra.Command{Use: "costing", Short: "Manage costing versions"}
	c.AddCommand(costingAttachCmd())
	c.AddCommand(artifactHistoryCmd(domain.KindCosting))
	return c
}

func costingAttachCmd() *cobra.Command {
	var filename, uri, notes, breakdownJSON string
	var total int64
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a new costing version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var breakdown []domain.CostLine
			if breakdownJSON != "" {
				if err := json.Unmarshal([]byte(breakdownJSON), &breakdown); err != nil {
					return fmt.Errorf("invalid breakdown JSON: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, a, err := e.AttachCosting(ctx, engine.AttachCostingOptions{
					ProjectID:   e.Config.Project.ID,
					Filename:    filename,
					URI:         uri,
					Notes:       notes,
					TotalAmount: total,
					Breakdown:   breakdown,
					Actor:       cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "artifact": a})
			})
		},
	}
	cmd.Flags().StringVar(&filename, "file", "", "document filename")
	cmd.Flags().StringVar(&uri, "uri", "", "storage URI")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().Int64Var(&total, "total", 0, "total amount in minor units")
	cmd.Flags().StringVar(&breakdownJSON, "breakdown-json", "", "itemized breakdown JSON array")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func artifactHistoryCmd(kind string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List " + kind + " versions, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListArtifacts(ctx, e.Config.Project.ID, kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Filename", "Total", "Uploaded By", "Uploaded At"})
				for _, a := range items {
					total := ""
					if a.TotalAmount != nil {
						total = fmt.Sprintf("%d", *a.TotalAmount)
					}
					tw.AppendRow(table.Row{a.Version, a.Filename, total, a.UploadedBy, a.UploadedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit for customer approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SubmitForApproval(ctx, e.Config.Project.ID, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func approveCmd() *cobra.Command {
	var plan string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve and lock the payment plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Approve(ctx, engine.ApproveOptions{
					ProjectID: e.Config.Project.ID,
					Plan:      plan,
					Actor:     cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", domain.PlanStaged, "payment plan (staged|full)")
	return cmd
}

func reviseCmd() *cobra.Command {
	var target, feedback string
	cmd := &cobra.Command{
		Use:   "revise",
		Short: "Request a revision against the current blueprint or costing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, rev, err := e.RequestRevision(ctx, engine.ReviseOptions{
					ProjectID: e.Config.Project.ID,
					Feedback:  feedback,
					Target:    target,
					Actor:     cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "revision": rev})
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "artifact to redo (blueprint|costing)")
	cmd.Flags().StringVar(&feedback, "feedback", "", "actionable feedback")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func fabricateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fabricate",
		Short: "Advance to fabrication (downpayment must be verified)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AdvanceToFabrication(ctx, e.Config.Project.ID, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark fabrication finished and delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Complete(ctx, e.Config.Project.ID, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func paymentsCmd() *cobra.Command {
	pay := &cobra.Command{Use: "payments", Short: "Inspect and update the payment schedule"}
	pay.AddCommand(paymentsShowCmd())
	pay.AddCommand(paymentsSetStatusCmd())
	return pay
}

func paymentsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show payment stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStages(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Label", "Pct", "Amount", "Status"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Seq, s.Label, s.Percentage, s.Amount, s.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func paymentsSetStatusCmd() *cobra.Command {
	var seq int
	var status string
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Record a stage verification outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.SetPaymentStageStatus(ctx, engine.StageUpdateOptions{
					ProjectID: e.Config.Project.ID,
					Seq:       seq,
					Status:    status,
					Actor:     cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().IntVar(&seq, "seq", 1, "stage sequence number")
	cmd.Flags().StringVar(&status, "status", "", "new status (submitted|verified|rejected)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): payment stage definitions, revision policy, roles. Import from fabline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configExportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				projectID, _, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
				if err != nil {
					return err
				}
				cfg.Project.ID = projectID
				if err := r.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				fmt.Println("config imported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "fabline.yml", "config file path")
	return cmd
}

func configExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := viper.GetString("project")
			if projectID == "" {
				projectID = "my-project"
			}
			fmt.Print(config.GenerateDefault(projectID))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEventsFrom(ctx, n, 0, e.Config.Project.ID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("FABLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Fabline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without bearer auth")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
