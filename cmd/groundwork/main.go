// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command groundwork serves and administers the document and web answer
// engine.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/groundwork"
	"github.com/poiesic/groundwork/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "groundwork",
		Usage: "Answer questions from uploaded documents and the web",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				Value:   "groundwork.yaml",
				EnvVars: []string{"GROUNDWORK_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file with API keys",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			serveCommand(),
			askCommand(),
			ingestCommand(),
			deleteFileCommand(),
			reembedCommand(),
			jobsCommand(),
			configCommand(),
		},
	}
}

func setup(c *cli.Context) error {
	if err := setupLogger(c); err != nil {
		return err
	}
	return config.LoadDotEnv(c.String("env-file"))
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withEngine opens the engine for the duration of fn. Only serve passes
// groundwork.WithJobExecution; other commands never run or recover jobs.
func withEngine(c *cli.Context, fn func(ctx context.Context, engine *groundwork.Engine) error, opts ...groundwork.EngineOption) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	opts = append([]groundwork.EngineOption{groundwork.WithLogger(slog.Default())}, opts...)
	engine, err := groundwork.Open(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			slog.Error("error closing engine", "err", err)
		}
	}()
	return fn(ctx, engine)
}
