package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/empath/internal/api"
	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/logger"
	"github.com/comigor/empath/pkg/tools"
)

var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "empath",
	Short: "empath - a business advisor that remembers your conversations",
	Long: `empath keeps a durable history of conversations with an AI business
advisor, tags every reply with a category and sentiment, and exposes the
advisor over HTTP or as MCP tools.

Configuration comes from config.yaml (or CONFIG_PATH) and EMPATH_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded
		logger.SetLevel(cfg.Log.Level)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the advisor HTTP API",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the advisor as MCP tools over stdio",
	RunE:  runMCP,
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write every conversation as an export document (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Prepend the conversations of an export document",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, exportCmd, importCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := api.New(a.agent, a.repo, a.archive, a.store, a.metrics, a.notice)
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.repo.RunAutoSave(gctx, cfg.Store.AutoSaveInterval)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.L.Error("server stopped", "error", err)
		return err
	}
	logger.L.Info("server stopped")
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	// stdout carries the protocol
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	// runs before close, so no autosave races the final save
	defer a.repo.StartAutoSave(ctx, cfg.Store.AutoSaveInterval)()

	manager := tools.NewAdvisorTools(a.agent, a.repo, a.archive)
	logger.L.Info("serving MCP over stdio", "tools", len(manager.List()))
	return server.ServeStdio(manager.Server("empath", version))
}

func runExport(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return exportTo(cmd.Context(), cfg, w)
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := importFrom(cmd.Context(), cfg, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully imported %d conversations.\n", n)
	return nil
}
