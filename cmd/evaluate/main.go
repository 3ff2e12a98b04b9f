package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zatekoja/codelookup/internal/bootstrap"
	"github.com/zatekoja/codelookup/internal/evaluation"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
	"github.com/zatekoja/codelookup/pkg/config"
	"github.com/zatekoja/codelookup/pkg/secrets"
)

type options struct {
	goldenPath  string
	concurrency int
	format      string
	minRecall   float64
	minMRR      float64
	maxFailed   int
	noColor     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the retrieval engine against golden queries",
		Long: `Runs every golden query through the mode it names, computes Recall@10 and MRR@10
and prints a summary. The command exits non-zero when a guardrail fails.

Examples:
  evaluate                                   # config/golden_queries.json, table output
  evaluate --format json > summary.json
  evaluate --min-recall 0.8 --min-mrr 0.6    # fail CI below these averages`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.goldenPath, "golden", "g", "config/golden_queries.json", "golden query file")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 0, "queries evaluated in parallel (0 uses half the CPUs)")
	flags.StringVarP(&opts.format, "format", "f", "table", "output format: table or json")
	flags.Float64Var(&opts.minRecall, "min-recall", 0, "minimum average Recall@10 overall and per mode")
	flags.Float64Var(&opts.minMRR, "min-mrr", 0, "minimum average MRR@10 overall and per mode")
	flags.IntVar(&opts.maxFailed, "max-failed", 0, "maximum queries allowed to error")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored guardrail output")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	format := strings.ToLower(opts.format)
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	queries, err := evaluation.LoadGoldenQueries(opts.goldenPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := secrets.ApplyVaultSecrets(ctx, secrets.LoadVaultConfigFromEnv()); err != nil {
		return fmt.Errorf("failed to load secrets from Vault: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger("code-lookup-evaluate", cfg.Env, cfg.LogLevel)

	stack, err := bootstrap.NewSearchStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer stack.Close()
	if !stack.SemanticEnabled {
		log.Warn().Msg("Semantic and hybrid queries are being scored against the keyword fallback")
	}

	summary, err := evaluation.NewRunner(stack.Service, opts.concurrency).Run(ctx, queries)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		err = evaluation.WriteJSON(out, summary)
	} else {
		err = evaluation.WriteTable(out, summary)
	}
	if err != nil {
		return err
	}

	guardrails := evaluation.NewGuardrails(evaluation.GuardrailConfig{
		MinRecallAt10:    opts.minRecall,
		MinMRRAt10:       opts.minMRR,
		MaxFailedQueries: opts.maxFailed,
	})
	violations := guardrails.Violations(summary)
	printGuardrails(cmd.ErrOrStderr(), violations, useColors(opts.noColor))
	if len(violations) > 0 {
		return fmt.Errorf("%d guardrail(s) failed", len(violations))
	}
	return nil
}

func useColors(noColor bool) bool {
	if noColor {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

// printGuardrails writes one line per violation, or a single pass line
func printGuardrails(w io.Writer, violations []string, colors bool) {
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed)
	if colors {
		pass.EnableColor()
		fail.EnableColor()
	} else {
		pass.DisableColor()
		fail.DisableColor()
	}

	if len(violations) == 0 {
		pass.Fprintln(w, "✓ guardrails passed")
		return
	}
	for _, v := range violations {
		fail.Fprintf(w, "✗ %s\n", v)
	}
}
