package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/ingest"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "phiscan",
		Short: "Scan record files for PHI and inspect the audit log",
		Long: `phiscan runs the PHI-Sentinel detector over CSV, newline-delimited JSON or
Parquet files and records what it finds in the configured audit store.

Examples:
  phiscan scan --input notes.csv                   # detect only
  phiscan scan --input notes.parquet --column body --redact --workers 8
  phiscan audit export --format csv > audit.csv`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")

	rootCmd.AddCommand(newScanCmd(&configPath))
	rootCmd.AddCommand(newAuditCmd(&configPath))
	return rootCmd
}

func newScanCmd(configPath *string) *cobra.Command {
	var (
		input     string
		column    string
		redactOut bool
		workers   int
		batchSize int
		userID    string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Detect (and optionally redact) PHI in every record of a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			detector, err := privacy.New(rt.cfg.Privacy, rt.log.WithComponent("privacy"))
			if err != nil {
				return fmt.Errorf("failed to create detector: %w", err)
			}

			pipeline := ingest.NewPipeline(detector, rt.audit, nil, ingest.Config{
				Column:    column,
				Workers:   workers,
				BatchSize: batchSize,
				Redact:    redactOut,
				Options:   redact.OptionsFromConfig(rt.cfg.Privacy.Redaction),
				UserID:    userID,
			}, rt.log.WithComponent("ingest").Logger)

			out := bufio.NewWriter(cmd.OutOrStdout())
			result, err := pipeline.ProcessFile(cmd.Context(), input, out)
			if flushErr := out.Flush(); err == nil {
				err = flushErr
			}
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			rt.log.Info("Scan summary",
				zap.String("file", result.File),
				zap.Int64("records", result.TotalRecords),
				zap.Int64("records_with_phi", result.RecordsWithPHI),
				zap.Int64("redactions", result.Redactions),
				zap.Int64("skipped", result.Skipped))
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input file (.csv, .json, .jsonl, .ndjson or .parquet)")
	cmd.Flags().StringVarP(&column, "column", "c", "text", "column or JSON field holding the text")
	cmd.Flags().BoolVar(&redactOut, "redact", false, "include redacted text in the output")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "number of concurrent scan workers")
	cmd.Flags().IntVar(&batchSize, "batch-size", 256, "records read per batch")
	cmd.Flags().StringVar(&userID, "user", "phiscan", "user recorded on audit events")
	cmd.MarkFlagRequired("input")
	return cmd
}

func newAuditCmd(configPath *string) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the persisted audit log",
	}

	var (
		format string
		output string
		filter audit.Filter
		action string
		risk   string
		userID string
	)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted audit events as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Action = audit.Action(action)
			filter.RiskLevel = audit.RiskLevel(risk)
			if filter.Action != "" && !filter.Action.Valid() {
				return fmt.Errorf("unknown action %q", action)
			}
			if filter.RiskLevel != "" && !filter.RiskLevel.Valid() {
				return fmt.Errorf("unknown risk level %q", risk)
			}

			rt, err := openApp(cmd, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.audit.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load audit log: %w", err)
			}

			events := rt.audit.GetEvents(filter)
			data, err := audit.EncodeEvents(audit.Format(format), events)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}

			containsPHI := false
			for _, e := range events {
				if e.Action == audit.ActionPHIDetected {
					containsPHI = true
					break
				}
			}
			_, err = rt.audit.Log(cmd.Context(), userID, audit.ActionDataExported, audit.ResourceData, "audit_log",
				audit.ExportDetails{Format: format, RecordCount: len(events), ContainsPHI: containsPHI}, audit.RiskMedium)
			return err
		},
	}

	exportCmd.Flags().StringVarP(&format, "format", "f", string(audit.FormatJSON), "export format: json or csv")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	exportCmd.Flags().StringVar(&filter.UserID, "filter-user", "", "only events by this user")
	exportCmd.Flags().StringVar(&action, "action", "", "only events with this action")
	exportCmd.Flags().StringVar(&risk, "risk", "", "only events with this risk level")
	exportCmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of events (0 for all)")
	exportCmd.Flags().StringVar(&userID, "user", "phiscan", "user recorded on the export event")

	auditCmd.AddCommand(exportCmd)
	return auditCmd
}

// app holds the loaded config, a stderr logger and an audit logger over
// the configured store
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	audit      *audit.Logger
	closeStore func() error
}

func openApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: zapcore.AddSync(cmd.ErrOrStderr()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, closeStore, err := audit.OpenStore(cfg.Audit.Storage, log.WithComponent("audit").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	return &app{
		cfg:        cfg,
		log:        log,
		audit:      audit.New(cfg.Audit, store, log.WithComponent("audit").Logger),
		closeStore: closeStore,
	}, nil
}

// close drains pending audit writes before releasing the store
func (rt *app) close() {
	if err := rt.audit.Close(); err != nil {
		rt.log.Error("Failed to close audit logger", zap.Error(err))
	}
	if err := rt.closeStore(); err != nil {
		rt.log.Error("Failed to close audit store", zap.Error(err))
	}
	rt.log.Sync()
}
