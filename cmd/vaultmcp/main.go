package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkiaudit/vaultmcp/internal/app"
	"github.com/pkiaudit/vaultmcp/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	listTools := flag.Bool("list", false, "List available tools")
	toolName := flag.String("tool", "", "Tool to call")
	toolArgs := flag.String("args", "{}", "Tool arguments as a JSON object")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vaultmcp v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Logging, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if *listTools {
		printJSON(a.Tools.Tools())
		return
	}
	if *toolName == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !json.Valid([]byte(*toolArgs)) {
		fmt.Fprintln(os.Stderr, "-args must be a JSON object")
		os.Exit(2)
	}

	result, err := a.Tools.Call(ctx, *toolName, json.RawMessage(*toolArgs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result.Payload)
	if result.IsError {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}
