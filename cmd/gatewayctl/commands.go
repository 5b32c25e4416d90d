package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schematichub/overview-gateway/internal/bootstrap"
	"github.com/schematichub/overview-gateway/internal/config"
	"github.com/schematichub/overview-gateway/internal/core"
	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/logging"
	"github.com/schematichub/overview-gateway/internal/openai"
	"github.com/schematichub/overview-gateway/internal/overview"
	"github.com/schematichub/overview-gateway/internal/relay"
	"github.com/schematichub/overview-gateway/internal/version"
)

type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	root    string
	verbose bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Operate the schematic overview gateway from the command line",
		Long: `gatewayctl runs the gateway's operations without the HTTP daemon.

Commands:
  init      Scaffold config/setting.ini and config/<env>/gateway.ini
  refresh   Generate missing overviews for a repository
  gate      Show whether a commit still needs an overview
  chat      Stream a chat completion to stdout`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&c.root, "root", ".", "directory containing config/")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(c.initCmd(), c.refreshCmd(), c.gateCmd(), c.chatCmd(), c.versionCmd())
	return rootCmd
}

func (c *cli) logger() *log.Logger {
	if c.verbose {
		return logging.New(c.stderr, "gatewayctl")
	}
	return log.New(io.Discard, "", 0)
}

func (c *cli) gateway() (*core.Gateway, error) {
	cfg, err := config.LoadGatewayConfig(c.root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return core.Build(cfg, c.logger())
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) initCmd() *cobra.Command {
	var opts bootstrap.InitOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold configuration files",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts.Root = c.root
			if err := bootstrap.Init(opts); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "configuration written under %s/config\n", strings.TrimSuffix(c.root, "/"))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Environment, "env", "dev", "environment name")
	cmd.Flags().StringVar(&opts.HTTPAddress, "http-address", ":8080", "daemon listen address")
	cmd.Flags().StringVar(&opts.Provider, "provider", config.ProviderXAI, "chat provider (xai|loopback)")
	cmd.Flags().StringVar(&opts.Generator, "generator", config.GeneratorPlaceholder, "overview generator (provider|placeholder)")
	cmd.Flags().StringVar(&opts.StoreDriver, "store-driver", config.StoreSQLite, "summary store (sqlite|postgres)")
	cmd.Flags().StringVar(&opts.StorePath, "store-path", "", "sqlite file path")
	cmd.Flags().StringVar(&opts.StoreDSN, "store-dsn", "", "postgres DSN")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")
	return cmd
}

func (c *cli) refreshCmd() *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "refresh <owner/repo>",
		Short: "Generate missing overviews for every schematic commit of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := args[0]
			if _, _, err := history.ParseRepo(repo); err != nil {
				return err
			}
			gw, err := c.gateway()
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if !cached {
				gw.History.Invalidate(repo)
			}
			report, err := gw.Orchestrator.Run(ctx, repo, overview.TriggerCLI)
			if err != nil {
				return err
			}
			return c.printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "reuse cached history instead of refetching it")
	return cmd
}

func (c *cli) gateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gate <owner/repo> <commit>",
		Short: "Show the stored overview state of a commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := c.gateway()
			if err != nil {
				return err
			}
			defer gw.Close()

			existing, err := gw.Store.Get(cmd.Context(), history.CloneURL(args[0]), args[1])
			if err != nil {
				return fmt.Errorf("lookup summary: %w", err)
			}
			out := map[string]any{
				"repo_url":         history.CloneURL(args[0]),
				"commit":           args[1],
				"stored":           existing != nil,
				"needs_processing": overview.NeedsProcessing(existing),
			}
			if existing != nil {
				out["blurb"] = existing.Blurb
				out["updated_at"] = existing.UpdatedAt
			}
			return c.printJSON(out)
		},
	}
}

func (c *cli) chatCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Stream a chat completion to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := c.gateway()
			if err != nil {
				return err
			}
			defer gw.Close()

			req := openai.ChatCompletionRequest{Model: firstNonEmpty(model, gw.Config.ChatModel), Stream: true}
			if msg := strings.TrimSpace(strings.Join(args, " ")); msg != "" {
				req.Messages = []openai.ChatMessage{openai.UserMessage(msg)}
			} else {
				p := gw.Prompts.Chat
				req.Messages = []openai.ChatMessage{openai.SystemMessage(p.System), openai.UserMessage(p.User)}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			stream := relay.Start(ctx, func(ctx context.Context) (io.ReadCloser, error) {
				return gw.Chat.OpenStream(ctx, req)
			}, relay.Options{Buffer: gw.Config.StreamBuffer, KeepAlive: gw.Config.StreamKeepAlive, Logger: c.logger()})

			var streamErr string
			for ev := range stream.Events() {
				switch ev.Kind {
				case relay.EventContent:
					fmt.Fprint(c.stdout, ev.Payload)
				case relay.EventError:
					streamErr = ev.Payload
				case relay.EventDone:
					fmt.Fprintln(c.stdout)
				}
			}
			if streamErr != "" {
				return fmt.Errorf("chat stream: %s", streamErr)
			}
			return ctx.Err()
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model name (defaults to chat_model)")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(c.stdout, "gatewayctl %s\n", version.FullInfo())
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
