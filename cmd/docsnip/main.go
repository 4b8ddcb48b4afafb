// Package main provides the docsnip CLI: crawl and upload documentation,
// extract code snippets, and manage ingestion jobs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docsnip/internal/config"
	"github.com/bull/docsnip/internal/enrich"
	"github.com/bull/docsnip/internal/fetch"
	"github.com/bull/docsnip/internal/job"
	"github.com/bull/docsnip/internal/pipeline"
	"github.com/bull/docsnip/internal/search"
	"github.com/bull/docsnip/internal/source"
	"github.com/bull/docsnip/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "docsnip",
	Short: "Documentation snippet ingestion tool",
	Long:  "Crawls documentation sites or ingests uploaded files, extracts code snippets, and indexes them for search.",
}

var (
	flagName        string
	flagDepth       int
	flagDomains     []string
	flagInclude     []string
	flagExclude     []string
	flagConcurrency int
	flagEnrich      bool
	flagIgnoreHash  bool
)

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	crawlCmd := &cobra.Command{
		Use:   "crawl [seed URLs...]",
		Short: "Crawl documentation sites and extract code snippets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), job.KindCrawl, args)
		},
	}
	uploadCmd := &cobra.Command{
		Use:   "upload [paths or github:owner/repo...]",
		Short: "Ingest uploaded files, directories, or repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), job.KindUpload, args)
		},
	}
	for _, c := range []*cobra.Command{crawlCmd, uploadCmd} {
		c.Flags().StringVar(&flagName, "name", "", "display name for the job")
		c.Flags().IntVar(&flagDepth, "depth", 0, "link-follow depth (0-3)")
		c.Flags().StringSliceVar(&flagDomains, "domain", nil, "allowed domain (exact host or suffix), repeatable")
		c.Flags().StringSliceVar(&flagInclude, "include", nil, "include URL glob pattern, repeatable")
		c.Flags().StringSliceVar(&flagExclude, "exclude", nil, "exclude URL glob pattern, repeatable")
		c.Flags().IntVar(&flagConcurrency, "concurrency", 0, "fetch concurrency (1-20)")
		c.Flags().BoolVar(&flagEnrich, "enrich", false, "generate AI titles and descriptions")
		c.Flags().BoolVar(&flagIgnoreHash, "ignore-hash", false, "re-extract even when content is unchanged")
	}

	statusCmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job's status and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			snap, err := deps.manager.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [job-id]",
		Short: "Request cooperative cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			// Jobs run inside the submitting process, so this only reaches
			// jobs supervised by this process. Foreground runs cancel on
			// SIGINT instead.
			return deps.manager.Cancel(args[0])
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [job-id]",
		Short: "Resume a failed or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := deps.manager.Resume(ctx, args[0]); err != nil {
				return err
			}
			if err := deps.manager.Wait(ctx, args[0]); err != nil {
				return err
			}
			snap, err := deps.manager.Status(ctx, args[0])
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		},
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			filter := job.ListFilter{
				Kind:   job.Kind(cmd.Flag("kind").Value.String()),
				Status: job.Status(cmd.Flag("job-status").Value.String()),
			}
			snaps, err := deps.manager.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				fmt.Printf("%s  %-7s %-9s  %s  snippets=%d errors=%d\n",
					snap.ID, snap.Kind, snap.Status, snap.CreatedAt.Format(time.RFC3339),
					snap.Counters.SnippetsExtracted, snap.Counters.Errors)
			}
			return nil
		},
	}
	jobsCmd.Flags().String("kind", "", "filter by kind (crawl|upload)")
	jobsCmd.Flags().String("job-status", "", "filter by status")

	deleteCmd := &cobra.Command{
		Use:   "delete [job-id]",
		Short: "Delete a terminal job and its documents and snippets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			if err := deps.manager.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if deps.index != nil {
				if err := deps.index.DeleteByJob(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(crawlCmd, uploadCmd, statusCmd, cancelCmd, resumeCmd, jobsCmd, deleteCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type deps struct {
	cfg     *config.Config
	manager *job.Manager
	index   *search.Index
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var index *search.Index
	if cfg.IndexEnabled {
		index, err = search.NewIndex(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			return nil, fmt.Errorf("connect search index: %w", err)
		}
		if err := index.EnsureCollection(context.Background()); err != nil {
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
	}

	github, err := source.NewGitHubSource()
	if err != nil {
		return nil, fmt.Errorf("create github source: %w", err)
	}

	bus := job.NewBus()
	pipelineCfg := pipeline.Config{
		Engine:      fetch.NewHTTPEngine(cfg.FetchTimeout),
		MaxAttempts: cfg.MaxAttempts,
		DelayFloor:  cfg.DelayFloor,
		Files:       source.NewFileSource(),
		GitHub:      github,
		Enricher:    enrich.NewEnricher(cfg, cfg.EnrichConcurrency, slog.Default()),
		Store:       st,
		Bus:         bus,
		Logger:      slog.Default(),
	}
	if index != nil {
		pipelineCfg.Index = index
	}

	p := pipeline.New(pipelineCfg)
	m := job.NewManager(p, st, bus, slog.Default())
	return &deps{cfg: cfg, manager: m, index: index}, nil
}

// runJob submits a job and waits for it in the foreground. SIGINT requests
// cooperative cancellation: in-flight units finish, no new work dispatches.
func runJob(ctx context.Context, kind job.Kind, seeds []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}

	// Flag beats configured default beats the job-level default.
	concurrency := flagConcurrency
	if concurrency == 0 {
		concurrency = d.cfg.Concurrency
	}

	cfg := job.Config{
		Name:            flagName,
		Kind:            kind,
		Seeds:           seeds,
		MaxDepth:        flagDepth,
		AllowedDomains:  flagDomains,
		IncludePatterns: flagInclude,
		ExcludePatterns: flagExclude,
		Concurrency:     concurrency,
		Enrich:          flagEnrich,
		IgnoreHash:      flagIgnoreHash,
	}

	start := time.Now()
	id, err := d.manager.Submit(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Println("job submitted:", id)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if ctx.Err() == nil {
			_ = d.manager.Cancel(id)
		}
	}()

	if err := d.manager.Wait(context.Background(), id); err != nil {
		return err
	}

	snap, err := d.manager.Status(ctx, id)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func printSnapshot(snap job.Snapshot) {
	fmt.Printf("Job %s (%s)\n", snap.ID, snap.Kind)
	if snap.Name != "" {
		fmt.Printf("  Name:       %s\n", snap.Name)
	}
	fmt.Printf("  Status:     %s\n", snap.Status)
	fmt.Printf("  Discovered: %d\n", snap.Counters.PagesDiscovered)
	fmt.Printf("  Processed:  %d\n", snap.Counters.PagesProcessed)
	fmt.Printf("  Skipped:    %d\n", snap.Counters.PagesSkipped)
	fmt.Printf("  Snippets:   %d\n", snap.Counters.SnippetsExtracted)
	fmt.Printf("  Errors:     %d\n", snap.Counters.Errors)
}
