package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/groundwork"
	"github.com/poiesic/groundwork/answer"
	"github.com/poiesic/groundwork/config"
	"github.com/poiesic/groundwork/core"
	"github.com/poiesic/groundwork/ingestion"
	"github.com/poiesic/groundwork/reembed"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the search API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			c.Context = ctx

			return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
				srv, err := engine.NewServer()
				if err != nil {
					return err
				}
				addr := engine.Config().Server.Addr
				if c.IsSet("addr") {
					addr = c.String("addr")
				}
				return srv.ListenAndServe(ctx, addr)
			}, groundwork.WithJobExecution())
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question and print the result",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Search mode (documents_only, online_only, both, sequential_analysis, auto)",
				Value:   string(core.SearchModeDocumentsOnly),
			},
			&cli.StringFlag{
				Name:    "reasoning",
				Aliases: []string{"r"},
				Usage:   "Reasoning mode (non_reasoning, reasoning, reasoning_gpt5, reasoning_gemini, deep_research)",
				Value:   string(core.ReasoningNone),
			},
			&cli.IntFlag{
				Name:  "top-k",
				Usage: "Number of chunks to retrieve",
				Value: 5,
			},
			&cli.StringFlag{
				Name:  "conversation",
				Usage: "Conversation whose private files are searched along with shared ones",
			},
			&cli.StringSliceFlag{
				Name:  "priority",
				Usage: "Knowledge source order for the both mode (files, online_search)",
			},
		},
		Action: askAction,
	}
}

func askAction(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a question is required")
	}
	req := core.SearchRequest{
		Query:          query,
		TopK:           c.Int("top-k"),
		SearchMode:     core.SearchMode(c.String("mode")),
		ReasoningMode:  core.ReasoningMode(c.String("reasoning")),
		ConversationID: c.String("conversation"),
	}
	for _, src := range c.StringSlice("priority") {
		req.PriorityOrder = append(req.PriorityOrder, core.KnowledgeSource(src))
	}
	if err := core.ValidateSearchRequest(&req); err != nil {
		return err
	}

	return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
		monitor := answer.MonitorFunc(func(_ context.Context, p answer.Progress) error {
			fmt.Fprintf(c.App.ErrWriter, "[%3d%%] %s\n", p.Percent, p.Step)
			return nil
		})
		result, err := engine.Orchestrator().Run(ctx, req, monitor)
		if result != nil {
			printResult(c, result)
		}
		return err
	})
}

func printResult(c *cli.Context, result *core.AnswerResult) {
	w := c.App.Writer
	if result.AutoSelection != nil {
		fmt.Fprintf(w, "Mode: %s (%s)\n\n", result.AutoSelection.Mode, result.AutoSelection.Rationale)
	}
	if result.UseCase != "" {
		fmt.Fprintf(w, "Use case: %s\n\n", result.UseCase)
	}
	fmt.Fprintln(w, result.Answer)

	if len(result.Hits) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, hit := range result.Hits {
			name := hit.Chunk.Metadata.FileName
			if name == "" {
				name = hit.Chunk.FileID
			}
			fmt.Fprintf(w, "  %d. %s p.%d (%.3f, %s)\n", hit.Rank, name, hit.Chunk.Metadata.Page, hit.Score, hit.Method)
		}
	}
	if result.Partial {
		fmt.Fprintf(w, "\nIncomplete: failed at %s\n", result.FailedStep)
	}
	fmt.Fprintf(c.App.ErrWriter, "Completed in %s\n", result.ProcessingTime.Round(time.Millisecond))
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Chunk, embed and index text files. Form feeds separate pages.",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file-id",
				Usage: "File id to store the file under (single file only, defaults to the base name)",
			},
			&cli.StringFlag{
				Name:  "conversation",
				Usage: "Attach the files to a conversation instead of sharing them",
			},
		},
		Action: ingestAction,
	}
}

func ingestAction(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one file is required")
	}
	if c.IsSet("file-id") && len(paths) > 1 {
		return errors.New("--file-id can only be used with a single file")
	}

	return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
		pipeline := engine.Pipeline()
		total := 0
		for _, path := range paths {
			in, err := readFileInput(path)
			if err != nil {
				return err
			}
			if c.IsSet("file-id") {
				in.FileID = c.String("file-id")
			}
			in.ConversationID = c.String("conversation")

			n, err := pipeline.Ingest(ctx, in)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", path, err)
			}
			fmt.Fprintf(c.App.Writer, "%s: %d chunks\n", in.FileID, n)
			total += n
		}
		if err := pipeline.Wait(); err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "Ingested %d chunks from %d files\n", total, len(paths))
		return nil
	})
}

func readFileInput(path string) (ingestion.FileInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ingestion.FileInput{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return ingestion.FileInput{}, err
	}
	name := filepath.Base(path)
	return ingestion.FileInput{
		FileID:     name,
		FileName:   name,
		FileType:   strings.TrimPrefix(filepath.Ext(name), "."),
		Pages:      strings.Split(string(data), "\f"),
		UploadedAt: info.ModTime().UTC(),
	}, nil
}

func deleteFileCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-file",
		Usage:     "Remove a file's chunks from storage and indexes",
		ArgsUsage: "<file-id>",
		Action: func(c *cli.Context) error {
			fileID := c.Args().First()
			if fileID == "" {
				return errors.New("a file id is required")
			}
			return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
				n, err := engine.Pipeline().DeleteFile(ctx, fileID)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Deleted %d chunks of %s\n", n, fileID)
				return nil
			})
		},
	}
}

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:  "reembed",
		Usage: "Reembed all chunks with the configured embedding model",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of chunks to process in each batch",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N chunks",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum retry attempts for failed operations",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff",
				Value: 1 * time.Second,
			},
		},
		Action: reembedAction,
	}
}

func reembedAction(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
		fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n\n", engine.Config().AI.EmbeddingModel)
		if _, err := engine.NewReembedder(reembedConfig, c.App.ErrWriter).Run(ctx); err != nil {
			return fmt.Errorf("reembedding failed: %w", err)
		}
		return nil
	})
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect and manage background search jobs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List jobs",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "status",
						Usage: "Only list jobs in these states",
					},
				},
				Action: jobsListAction,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending or running job",
				ArgsUsage: "<job-id>",
				Action:    jobsCancelAction,
			},
			{
				Name:  "cleanup",
				Usage: "Delete finished jobs older than a retention period",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Retention period (defaults to jobs.retention)",
					},
				},
				Action: jobsCleanupAction,
			},
		},
	}
}

func jobsListAction(c *cli.Context) error {
	var statuses []core.JobStatus
	for _, s := range c.StringSlice("status") {
		status := core.JobStatus(s)
		if !status.Valid() {
			return fmt.Errorf("unknown job status %q", s)
		}
		statuses = append(statuses, status)
	}

	return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
		list, err := engine.Jobs().List(ctx, statuses...)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(c.App.Writer, "No jobs")
			return nil
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tSTEP\tUPDATED")
		for _, job := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\n", job.ID, job.Status, job.Progress, job.CurrentStep, job.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func jobsCancelAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("a job id is required")
	}
	return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
		job, changed, err := engine.Jobs().Cancel(ctx, id)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(c.App.Writer, "Job %s cancelled\n", id)
		} else {
			fmt.Fprintf(c.App.Writer, "Job %s already %s\n", id, job.Status)
		}
		return nil
	})
}

func jobsCleanupAction(c *cli.Context) error {
	return withEngine(c, func(ctx context.Context, engine *groundwork.Engine) error {
		retention := engine.Config().Jobs.Retention
		if c.IsSet("older-than") {
			retention = c.Duration("older-than")
		}
		n, err := engine.Jobs().Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Deleted %d jobs\n", n)
		return nil
	})
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a configuration file with default values",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s already exists, use --force to overwrite", path)
					}
					if err := config.Save(path, config.Default()); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					return config.Write(c.App.Writer, cfg)
				},
			},
		},
	}
}
