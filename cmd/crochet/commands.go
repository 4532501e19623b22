package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crochetdb/crochet/internal/config"
	"github.com/crochetdb/crochet/internal/driver"
	"github.com/crochetdb/crochet/internal/ir"
	"github.com/crochetdb/crochet/internal/ledger"
	"github.com/crochetdb/crochet/internal/migrate"
	"github.com/crochetdb/crochet/internal/server"
	"github.com/crochetdb/crochet/internal/verify"
)

var (
	flagProject string
	flagDebug   bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crochet",
		Short: "Schema migrations for graph databases",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&flagProject, "project", "", "project root (default: discovered from the working directory)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(newCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(upgradeCmd())
	root.AddCommand(downgradeCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(serveCmd())
	return root
}

// engineFor wires the ledger (and optionally the graph driver) for the
// loaded project. The returned cleanup closes both on every exit path.
func engineFor(cfg *config.Config, connectGraph bool) (*migrate.Engine, driver.GraphDriver, func(), error) {
	led, err := ledger.Open(cfg.LedgerFile())
	if err != nil {
		return nil, nil, nil, err
	}

	var drv driver.GraphDriver
	if connectGraph {
		bolt, err := driver.NewBoltDriver(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			led.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to graph database: %w", err)
		}
		drv = bolt
	}

	cleanup := func() {
		if drv != nil {
			drv.Close(context.Background())
		}
		led.Close()
	}
	return migrate.NewEngine(migrate.Default(), led, drv), drv, cleanup, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [name]",
		Short: "Initialize a crochet project in the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "my-graph"
			if len(args) > 0 {
				name = args[0]
			}
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg := config.Default(name, root)
			if err := cfg.Save(); err != nil {
				return err
			}
			for _, dir := range []string{cfg.ModelsDir(), cfg.MigrationsDir()} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			led, err := ledger.Open(cfg.LedgerFile())
			if err != nil {
				return err
			}
			defer led.Close()
			log.Info().Str("project", name).Str("root", root).Msg("project initialized")
			return nil
		},
	}
}

func newCmd() *cobra.Command {
	var snapshotPath string
	var unsafe bool
	cmd := &cobra.Command{
		Use:   "new <description>",
		Short: "Scaffold the next migration in the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagProject)
			if err != nil {
				return err
			}
			engine, _, cleanup, err := engineFor(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			var snapshot *ir.SchemaSnapshot
			if snapshotPath != "" {
				raw, err := os.ReadFile(snapshotPath)
				if err != nil {
					return fmt.Errorf("failed to read snapshot file: %w", err)
				}
				snap, err := ir.FromJSON(string(raw))
				if err != nil {
					return err
				}
				snapshot = &snap
			}

			path, err := engine.CreateMigration(cfg.MigrationsDir(), args[0], snapshot, !unsafe)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "path to a schema snapshot JSON produced by the model reader")
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "mark the migration as not rollback-safe")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report head, applied, pending, and batch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagProject)
			if err != nil {
				return err
			}
			engine, _, cleanup, err := engineFor(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := engine.Status()
			if err != nil {
				return err
			}
			if st.Head == "" {
				fmt.Println("head: (none)")
			} else {
				fmt.Printf("head: %s\n", st.Head)
			}
			for _, m := range st.Applied {
				fmt.Printf("applied: %s at %s\n", m.RevisionID, m.AppliedAt)
			}
			for _, rev := range st.Pending {
				fmt.Printf("pending: %s\n", rev)
			}
			for _, b := range st.Batches {
				fmt.Printf("batch: %s (migration=%s rows=%d)\n", b.BatchID, b.MigrationID, b.RecordCount)
			}
			for _, issue := range st.Issues {
				fmt.Printf("issue: %s\n", issue)
			}
			return nil
		},
	}
}

func upgradeCmd() *cobra.Command {
	var target string
	var dryRun, allowMismatch bool
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply pending migrations in chain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagProject)
			if err != nil {
				return err
			}
			engine, _, cleanup, err := engineFor(cfg, !dryRun)
			if err != nil {
				return err
			}
			defer cleanup()
			engine.AllowHashMismatch = allowMismatch

			if dryRun {
				plan, err := engine.PlanUpgrade(target)
				if err != nil {
					return err
				}
				for _, rev := range plan.Revisions {
					fmt.Printf("would apply: %s\n", rev)
				}
				return nil
			}

			applied, err := engine.Upgrade(cmd.Context(), target)
			for _, rev := range applied {
				fmt.Printf("applied: %s\n", rev)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "stop after this revision (default: chain head)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without executing")
	cmd.Flags().BoolVar(&allowMismatch, "allow-hash-mismatch", false, "proceed despite snapshot hash mismatches")
	return cmd
}

func downgradeCmd() *cobra.Command {
	var target string
	var dryRun, allowMismatch bool
	cmd := &cobra.Command{
		Use:   "downgrade",
		Short: "Revert applied migrations from the head",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagProject)
			if err != nil {
				return err
			}
			engine, _, cleanup, err := engineFor(cfg, !dryRun)
			if err != nil {
				return err
			}
			defer cleanup()
			engine.AllowHashMismatch = allowMismatch

			if dryRun {
				plan, err := engine.PlanDowngrade(target)
				if err != nil {
					return err
				}
				for _, rev := range plan.Revisions {
					fmt.Printf("would revert: %s\n", rev)
				}
				return nil
			}

			reverted, err := engine.Downgrade(cmd.Context(), target)
			for _, rev := range reverted {
				fmt.Printf("reverted: %s\n", rev)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "revert down to (excluding) this revision; default one step")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without executing")
	cmd.Flags().BoolVar(&allowMismatch, "allow-hash-mismatch", false, "proceed despite snapshot hash mismatches")
	return cmd
}

func verifyCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check migrations, ledger, and graph for inconsistencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagProject)
			if err != nil {
				return err
			}
			engine, drv, cleanup, err := engineFor(cfg, !offline)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := verify.Run(cmd.Context(), migrate.Default(), engine.Ledger(), drv)
			if err != nil {
				return err
			}
			fmt.Println(report.Summary())
			if !report.Passed() {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the graph connectivity check")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only status API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagProject)
			if err != nil {
				return err
			}
			engine, drv, cleanup, err := engineFor(cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := server.NewServer(engine, migrate.Default(), drv)
			log.Info().Str("addr", addr).Msg("serving status API")
			return srv.SetupRouter().Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
