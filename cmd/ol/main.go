package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orderline/internal/app"
	"orderline/internal/config"
	"orderline/internal/db"
	"orderline/internal/domain"
	"orderline/internal/engine"
	"orderline/internal/repo"
	"orderline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ol",
	Short: "Orderline CLI",
	Long: `Orderline composes customer orders from a service catalog and tracks the
work each purchased service produces.
- Workspace: your .orderline directory holding the database; the catalog and
  order templates live in orderline.yml.
- Orders: created from a template (one instance per service), reconciled to
  any per-service quantity later; instances whose work has an assignee are
  protected from removal.
- Tasks: direct work items; statuses go not_assigned -> assigned ->
  in_progress -> paused -> completed, with overdue derived from the deadline.
- Asking tasks: client-communication workflows moving through asked, shared,
  verified and informed_team, with an append-only stage history.
- Folder link: attaching the customer's delivery folder auto-assigns every
  eligible unassigned unit.
- Audit log: diary of changes, view with 'ol log tail'.`,
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
	viper.SetEnvPrefix("ORDERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(askingCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default orderline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate orderline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serviceCmd() *cobra.Command {
	svc := &cobra.Command{Use: "service", Short: "Inspect the service catalog"}
	svc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListServices(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Team", "Mandatory", "Auto-Assign"})
				for _, s := range items {
					auto := ""
					if s.AutoAssignEnabled && s.AutoAssignUserID != nil {
						auto = *s.AutoAssignUserID
					}
					tw.AppendRow(table.Row{s.ID, s.Name, s.Type, s.TeamID, s.Mandatory, auto})
				}
				tw.Render()
				return nil
			})
		},
	})
	return svc
}

func orderCmd() *cobra.Command {
	ord := &cobra.Command{Use: "order", Short: "Manage orders"}
	ord.AddCommand(orderCreateCmd())
	ord.AddCommand(orderListCmd())
	ord.AddCommand(orderShowCmd())
	ord.AddCommand(orderStatusCmd())
	ord.AddCommand(orderLinkCmd())
	ord.AddCommand(orderSetCmd())
	return ord
}

func orderCreateCmd() *cobra.Command {
	var id, orderType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create order from a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orderType == "" {
				return fmt.Errorf("--type required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrder(ctx, engine.OrderCreateOptions{
					ID:      id,
					Type:    orderType,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "order id (generated when empty)")
	cmd.Flags().StringVar(&orderType, "type", "", "order type (template name)")
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orders, err := e.Repo.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Customized", "Folder Link"})
				for _, o := range orders {
					link := ""
					if o.FolderLink != nil {
						link = *o.FolderLink
					}
					tw.AppendRow(table.Row{o.ID, o.Type, o.Status, o.Customized, link})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show order with service counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountInstancesByService(ctx, o.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"order": o, "services": counts})
			})
		},
	}
	return cmd
}

func orderStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Update order status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.SetOrderStatus(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <id> <folder-link>",
		Short: "Attach folder link and auto-assign eligible tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, assigned, err := e.AttachFolderLink(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"order": o, "auto_assigned": assigned})
			})
		},
	}
	return cmd
}

func orderSetCmd() *cobra.Command {
	var services []string
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Reconcile order services to desired counts",
		Long: `Reconcile the order's service instances against desired counts, e.g.
  ol order set ord-1 --service photo.editing=2 --service client.review=1
Services omitted from the flags are removed entirely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired := map[string]int{}
			for _, spec := range services {
				parts := strings.SplitN(spec, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --service %q, want id=count", spec)
				}
				count, err := strconv.Atoi(parts[1])
				if err != nil {
					return fmt.Errorf("invalid count in --service %q: %w", spec, err)
				}
				desired[parts[0]] = count
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ReconcileServices(ctx, engine.ReconcileOptions{
					OrderID: args[0],
					Desired: desired,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountInstancesByService(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"result": res, "services": counts})
			})
		},
	}
	cmd.Flags().StringArrayVar(&services, "service", nil, "desired count as id=count (repeatable)")
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage direct tasks"}
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskShowCmd())
	tsk.AddCommand(taskAssignCmd())
	tsk.AddCommand(taskActionCmd("start", "Start task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.StartTask(ctx, id, viper.GetString("actor-id"))
	}))
	tsk.AddCommand(taskActionCmd("pause", "Pause task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.PauseTask(ctx, id, viper.GetString("actor-id"))
	}))
	tsk.AddCommand(taskActionCmd("resume", "Resume task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.ResumeTask(ctx, id, viper.GetString("actor-id"))
	}))
	tsk.AddCommand(taskCompleteCmd())
	tsk.AddCommand(taskScheduleCmd())
	return tsk
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				now := e.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order", "Title", "Status", "Assignee", "Deadline"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					deadline := ""
					if t.Deadline != nil {
						deadline = *t.Deadline
					}
					tw.AppendRow(table.Row{t.ID, t.OrderID, t.Title, engine.EffectiveTaskStatus(t, now), assignee, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrderID, "order", "", "order filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only unassigned tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <user-id>",
		Short: "Assign task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AssignTask(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskActionCmd(verb, short string, fn func(context.Context, engine.Engine, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskCompleteCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0], viper.GetString("actor-id"), optionalString(notes))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	return cmd
}

func taskScheduleCmd() *cobra.Command {
	var deadline string
	var priority int
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Set task deadline and priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prio *int
			if cmd.Flags().Changed("priority") {
				prio = &priority
			}
			var dl *string
			if cmd.Flags().Changed("deadline") {
				dl = &deadline
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ScheduleTask(ctx, args[0], dl, prio, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339, empty clears)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	return cmd
}

func askingCmd() *cobra.Command {
	ask := &cobra.Command{Use: "asking", Short: "Manage asking tasks"}
	ask.AddCommand(askingListCmd())
	ask.AddCommand(askingShowCmd())
	ask.AddCommand(askingAssignCmd())
	ask.AddCommand(askingStageCmd())
	ask.AddCommand(askingCompleteCmd())
	return ask
}

func askingListCmd() *cobra.Command {
	var f repo.AskingTaskFilters
	var completed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List asking tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("completed") {
				f.Completed = &completed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAskingTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order", "Title", "Stage", "Assignee", "Completed"})
				for _, a := range items {
					assignee := ""
					if a.AssigneeID != nil {
						assignee = *a.AssigneeID
					}
					done := ""
					if a.CompletedAt != nil {
						done = *a.CompletedAt
					}
					tw.AppendRow(table.Row{a.ID, a.OrderID, a.Title, a.Stage, assignee, done})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrderID, "order", "", "order filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().BoolVar(&completed, "completed", false, "completed filter")
	return cmd
}

func askingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show asking task with stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetAskingTaskDetail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
}

func askingAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <user-id>",
		Short: "Assign asking task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AssignAskingTask(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func askingStageCmd() *cobra.Command {
	var confirmation, staffName, note string
	cmd := &cobra.Command{
		Use:   "stage <id> <stage>",
		Short: "Record a stage update",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.StageUpdateOptions{
				ID:      args[0],
				Stage:   args[1],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("confirmation") {
				opts.Confirmation = &confirmation
			}
			if cmd.Flags().Changed("staff-name") {
				opts.StaffName = &staffName
			}
			if cmd.Flags().Changed("note") {
				opts.Note = &note
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAskingStage(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&confirmation, "confirmation", "", "confirmation (empty string clears)")
	cmd.Flags().StringVar(&staffName, "staff-name", "", "staff name")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func askingCompleteCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete asking task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CompleteAskingTask(ctx, args[0], viper.GetString("actor-id"), optionalString(notes))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.LatestAudit(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "ol_" + hex.EncodeToString(raw)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				k := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, k); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// the secret is shown once and never stored
				return printJSONOrTable(map[string]string{"id": k.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, e, err := app.Bootstrap(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("ORDERLINE_JWT_SECRET"),
				AllowLegacyActorHeader: e.Config.Auth.AllowActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = e.Config.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("ORDERLINE_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Orderline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, e, err := app.Bootstrap(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
