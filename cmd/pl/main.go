package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/app"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/planfile"
	"planline/internal/projection"
	"planline/internal/repo"
	"planline/internal/server"
	"planline/internal/telemetry"
)

var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline projects a portfolio of work items onto per-skill capacity and reports
what the schedule would look like.
Core concepts:
- Portfolio: the set of work items, dependencies and capacity a projection reads.
- Work items: backlog items wait to be placed; scheduled items are pinned to a start period.
- Dependencies: "A before B" edges; cycles are accepted and reported as violations.
- Capacity: hours per skill per period, with hours already allocated outside the portfolio.
- Projections: full schedule, one proposed change, or a what-if sequence of changes. They
  never modify stored items; results are kept as scenarios.
- Event log: every change and projection, view with 'pl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = telemetry.NewLogger(os.Stderr, viper.GetString("log-level"), "console")
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
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("portfolio", "", "portfolio id (required when the workspace holds several)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("portfolio", rootCmd.PersistentFlags().Lookup("portfolio"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(portfolioCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(scenarioCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func portfolioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "portfolio", Short: "Manage portfolios"}
	cmd.AddCommand(portfolioCreateCmd())
	cmd.AddCommand(portfolioListCmd())
	cmd.AddCommand(portfolioShowCmd())
	cmd.AddCommand(portfolioConfigCmd())
	return cmd
}

func portfolioCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				if cfg == nil {
					cfg = config.Default(id)
				}
				e := engine.New(r.DB, cfg)
				e.Log = logger
				p, err := e.InitPortfolio(ctx, id, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "portfolio id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func portfolioListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List portfolios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPortfolios(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(row("ID", "Status", "Description", "Created"))
				for _, p := range items {
					tw.AppendRow(row(p.ID, p.Status, p.Description, p.CreatedAt))
				}
				tw.Render()
				return nil
			})
		},
	}
}

func portfolioShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPortfolio(ctx, e.Config.Portfolio.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func portfolioConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage portfolio config"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show portfolio config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cmd.AddCommand(portfolioConfigImportCmd())
	return cmd
}

func portfolioConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import portfolio config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertPortfolioConfig(ctx, nil, e.Config.Portfolio.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items carry per-skill hour demand and a priority (lower goes first).",
	}
	cmd.AddCommand(itemAddCmd())
	cmd.AddCommand(itemListCmd())
	cmd.AddCommand(itemUpdateCmd())
	cmd.AddCommand(itemRemoveCmd())
	return cmd
}

func itemAddCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	var demand map[string]string
	var priority, start, duration int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := parseDemand(demand)
			if err != nil {
				return err
			}
			opts.SkillDemand = hours
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("start") {
				opts.ScheduledStart = &start
			}
			if cmd.Flags().Changed("duration") {
				opts.DurationPeriods = &duration
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.PortfolioID = e.Config.Portfolio.ID
				rec, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringToStringVar(&demand, "demand", nil, "skill demand in hours, e.g. backend=120,qa=40")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is earlier)")
	cmd.Flags().IntVar(&start, "start", 0, "pin to start period (marks the item scheduled)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in periods for a pinned item")
	cmd.Flags().StringArrayVar(&opts.DependsOn, "depends-on", []string{}, "predecessor item id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Items(ctx, e.Config.Portfolio.ID)
				if err != nil {
					return err
				}
				filtered := items[:0]
				for _, it := range items {
					if status == "" || it.Status == status {
						filtered = append(filtered, it)
					}
				}
				if viper.GetBool("json") {
					return printJSON(filtered)
				}
				tw := newTable()
				tw.AppendHeader(row("ID", "Title", "Status", "Priority", "Demand", "Start", "Duration", "After"))
				for _, it := range filtered {
					tw.AppendRow(row(it.ID, it.Title, it.Status, it.Priority, formatDemand(it.SkillDemand), optInt(it.ScheduledStart), optInt(it.DurationPeriods), strings.Join(it.Dependencies, ",")))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (backlog, scheduled)")
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var opts engine.ItemUpdateOptions
	var title, status string
	var demand map[string]string
	var priority, start, duration int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("demand") {
				hours, err := parseDemand(demand)
				if err != nil {
					return err
				}
				opts.SkillDemand = hours
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("start") {
				opts.ScheduledStart = &start
			}
			if cmd.Flags().Changed("duration") {
				opts.DurationPeriods = &duration
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.UpdateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&status, "status", "", "new status (backlog, scheduled)")
	cmd.Flags().StringToStringVar(&demand, "demand", nil, "replace skill demand, e.g. backend=120")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is earlier)")
	cmd.Flags().IntVar(&start, "start", 0, "pin to start period")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in periods")
	cmd.Flags().BoolVar(&opts.Unschedule, "unschedule", false, "return the item to the backlog")
	return cmd
}

func itemRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a work item and its dependency edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteItem(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func depCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage dependency edges",
		Long:  "An edge --from A --to B means A must finish before B starts.",
	}
	var from, to string
	edgeFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&from, "from", "", "predecessor item id")
		c.Flags().StringVar(&to, "to", "", "dependent item id")
		_ = c.MarkFlagRequired("from")
		_ = c.MarkFlagRequired("to")
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a dependency edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddDependency(ctx, e.Config.Portfolio.ID, domain.DependencyEdge{FromItemID: from, ToItemID: to}, viper.GetString("actor-id"))
			})
		},
	}
	edgeFlags(add)
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a dependency edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveDependency(ctx, e.Config.Portfolio.ID, domain.DependencyEdge{FromItemID: from, ToItemID: to}, viper.GetString("actor-id"))
			})
		},
	}
	edgeFlags(remove)
	list := &cobra.Command{
		Use:   "list",
		Short: "List dependency edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.Graph(ctx, e.Config.Portfolio.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				tw := newTable()
				tw.AppendHeader(row("From", "To"))
				for _, edge := range g.Edges {
					tw.AppendRow(row(edge.FromItemID, edge.ToItemID))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(add, remove, list)
	return cmd
}

func capacityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Manage the capacity grid",
	}
	cmd.AddCommand(capacitySetCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the capacity grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				grid, err := e.Repo.Grid(ctx, e.Config.Portfolio.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(grid)
				}
				renderGrid(grid)
				return nil
			})
		},
	})
	return cmd
}

func capacitySetCmd() *cobra.Command {
	var filePath string
	var periods []string
	var hours map[string]string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the capacity grid",
		Long: `Replace the grid either from the capacity section of a plan file (--file) or
with uniform hours per skill across the named periods (--period, --hours).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan planfile.Plan
			switch {
			case filePath != "":
				loaded, err := planfile.Load(filePath)
				if err != nil {
					return err
				}
				plan = *loaded
			case len(periods) > 0:
				uniform, err := parseDemand(hours)
				if err != nil {
					return err
				}
				plan.Capacity = planfile.Capacity{Periods: periods, Hours: uniform}
			default:
				return fmt.Errorf("--file or --period required")
			}
			grid, err := plan.Grid()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stored, err := e.SetCapacity(ctx, e.Config.Portfolio.ID, grid, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stored)
				}
				renderGrid(stored)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "plan file whose capacity section is imported")
	cmd.Flags().StringArrayVar(&periods, "period", []string{}, "period id in order (repeatable)")
	cmd.Flags().StringToStringVar(&hours, "hours", nil, "hours per skill per period, e.g. backend=100,qa=40")
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Compute projections",
		Long:  "Projections read the stored portfolio, never modify it, and are kept as scenarios.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "full",
		Short: "Project the full schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ProjectFullSchedule(ctx, e.Config.Portfolio.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printScenario(rec)
			})
		},
	})
	cmd.AddCommand(projectChangeCmd())
	cmd.AddCommand(projectWhatIfCmd())
	return cmd
}

func projectChangeCmd() *cobra.Command {
	var kind, itemID, from, to, title string
	var start, duration, priority int
	var demand map[string]string
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Project one proposed change",
		RunE: func(cmd *cobra.Command, args []string) error {
			change := domain.ProposedChange{Kind: domain.ChangeKind(kind), ItemID: itemID, FromItemID: from, ToItemID: to}
			if cmd.Flags().Changed("start") {
				change.StartPeriod = &start
			}
			if cmd.Flags().Changed("duration") {
				change.DurationPeriods = &duration
			}
			if cmd.Flags().Changed("priority") {
				change.Priority = &priority
			}
			if change.Kind == domain.ChangeAdd {
				hours, err := parseDemand(demand)
				if err != nil {
					return err
				}
				item := domain.WorkItem{ID: itemID, Title: title, Status: domain.StatusBacklog, SkillDemand: hours}
				if change.Priority != nil {
					item.Priority = *change.Priority
				}
				change.Item = &item
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.ProjectChange(ctx, e.Config.Portfolio.ID, change, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printScenario(rec)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "change kind (add, remove, schedule, reprioritize, link, unlink)")
	cmd.Flags().StringVar(&itemID, "item", "", "item id")
	cmd.Flags().StringVar(&title, "title", "", "title for an added item")
	cmd.Flags().StringToStringVar(&demand, "demand", nil, "skill demand for an added item")
	cmd.Flags().IntVar(&start, "start", 0, "start period for schedule")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration for schedule")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority for reprioritize or add")
	cmd.Flags().StringVar(&from, "from", "", "predecessor for link/unlink")
	cmd.Flags().StringVar(&to, "to", "", "dependent for link/unlink")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func projectWhatIfCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "what-if",
		Short: "Project the changes listed in a plan file against the stored portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planfile.Load(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.WhatIf(ctx, e.Config.Portfolio.ID, plan.ProposedChanges(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printScenario(rec)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "plan file with a changes section")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func scenarioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scenario", Short: "Inspect stored scenarios"}
	var kind string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListScenarios(ctx, e.Config.Portfolio.ID, kind, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(row("ID", "Kind", "Changes", "Scheduled", "Unscheduled", "Violations", "Created"))
				for _, rec := range items {
					s := rec.Scenario
					tw.AppendRow(row(rec.ID, rec.Kind, len(rec.Changes), s.Summary.ScheduledItems, s.Summary.UnscheduledItems, len(s.StructuralViolations), rec.CreatedAt))
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "kind filter (full, change, what_if)")
	list.Flags().IntVar(&limit, "n", 20, "number of scenarios")
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetScenario(ctx, args[0])
				if err != nil {
					return err
				}
				return printScenario(rec)
			})
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Project offline plan files",
		Long:  "Plan files hold items, capacity, edges and changes in YAML; no workspace database is touched.",
	}
	var filePath string
	var watch bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Project a plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			projector := projection.New()
			runOnce := func() error {
				plan, err := planfile.Load(filePath)
				if err != nil {
					return err
				}
				kind, s, err := planfile.Run(plan, projector)
				if err != nil {
					return err
				}
				return printScenario(domain.ScenarioRecord{ID: plan.Name, Kind: kind, Changes: plan.ProposedChanges(), Scenario: s})
			}
			if err := runOnce(); err != nil && !watch {
				return err
			} else if err != nil {
				logger.Error().Err(err).Str("file", filePath).Msg("plan run failed")
			}
			if !watch {
				return nil
			}
			logger.Info().Str("file", filePath).Msg("watching plan file")
			err := planfile.Watch(cmd.Context(), filePath, func() {
				if err := runOnce(); err != nil {
					logger.Error().Err(err).Str("file", filePath).Msg("plan run failed")
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	run.Flags().StringVar(&filePath, "file", "", "plan file")
	run.Flags().BoolVar(&watch, "watch", false, "re-project whenever the file changes")
	_ = run.MarkFlagRequired("file")
	cmd.AddCommand(run)
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every item, dependency, capacity and projection change recorded for the portfolio.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Portfolio.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(row("ID", "TS", "Type", "Entity", "Actor", "Payload"))
				for _, evt := range events {
					tw.AppendRow(row(evt.ID, evt.TS, evt.Type, evt.EntityKind+":"+evt.EntityID, evt.ActorID, evt.Payload))
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy, devLogin bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowLegacy,
				EnableDevLogin:         devLogin,
				TokenTTL:               ttl,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("PLANLINE_JWT_SECRET is required for bearer auth")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, nil)
				e.Log = logger
				metrics := telemetry.NewMetrics()
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  metrics,
					Log:      logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-actor-header", false, "accept X-Actor-Id without a token (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().DurationVar(&ttl, "token-ttl", 12*time.Hour, "lifetime of dev login tokens")
	cmd.Flags().String("jwt-secret", "", "HS256 secret (or PLANLINE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), viper.GetString("actor-id"), roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		_, cfg, err := app.ResolvePortfolioAndConfig(ctx, workspace, viper.GetString("portfolio"), viper.GetString("actor-id"), r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		e.Log = logger.With().Str("portfolio", cfg.Portfolio.ID).Logger()
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	applied, err := migrate.Migrate(conn)
	if err != nil {
		return err
	}
	for _, name := range applied {
		logger.Info().Str("migration", name).Msg("applied migration")
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

func parseDemand(in map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for skill, raw := range in {
		hours, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("hours for %s: %w", skill, err)
		}
		out[skill] = hours
	}
	return out, nil
}

func formatDemand(d map[string]float64) string {
	skills := make([]string, 0, len(d))
	for skill := range d {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	parts := make([]string, 0, len(skills))
	for _, skill := range skills {
		parts = append(parts, fmt.Sprintf("%s=%s", skill, formatHours(d[skill])))
	}
	return strings.Join(parts, ",")
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
