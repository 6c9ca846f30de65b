// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jllopis/dirigo/pkg/audit"
	"github.com/jllopis/dirigo/pkg/config"
	"github.com/jllopis/dirigo/pkg/directive"
	dirigomcp "github.com/jllopis/dirigo/pkg/mcp"
	"github.com/jllopis/dirigo/pkg/runtime"
)

type globalFlags struct {
	ConfigPath string
	Project    string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		runDirective(ctx, global, args[1:])
	case "validate":
		runValidate(global, args[1:])
	case "serve":
		runServe(ctx, global)
	case "cache":
		runCache(global, args[1:])
	case "history":
		runHistory(ctx, global, args[1:])
	case "version":
		fmt.Println("dirigo", runtime.Version)
	case "help":
		printUsage()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var global globalFlags
	flags := flag.NewFlagSet("dirigo", flag.ContinueOnError)
	flags.StringVar(&global.ConfigPath, "config", "", "path to config.yaml")
	flags.StringVar(&global.Project, "project", ".", "project path directives run against")
	flags.BoolVar(&global.JSON, "json", false, "JSON output")
	flags.BoolVar(&global.Help, "help", false, "show usage")
	flags.Usage = printUsage
	if err := flags.Parse(args); err != nil {
		return global, nil, err
	}
	return global, flags.Args(), nil
}

func newRuntime(global globalFlags) *runtime.Runtime {
	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	rt, err := runtime.GetExecutor(cfg)
	if err != nil {
		fatal(err)
	}
	return rt
}

func runDirective(ctx context.Context, global globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: dirigo run <directive-file>"))
	}
	d, err := directive.LoadFile(args[0])
	if err != nil {
		fatal(err)
	}

	rt := newRuntime(global)
	defer rt.Close(context.Background())

	result := rt.ExecuteDirective(ctx, d, global.Project)
	if global.JSON {
		printJSON(result)
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	writer := newTabWriter()
	writeRow(writer, "SUCCESS", fmt.Sprintf("%t", result.Success))
	if result.Error != "" {
		writeRow(writer, "ERROR", result.Error)
	}
	writeRow(writer, "OPERATIONS", fmt.Sprintf("%d", result.Metadata.OperationsExecuted))
	writeRow(writer, "CACHED", strings.Join(result.Metadata.CachedOperations, ", "))
	writeRow(writer, "TIME", fmt.Sprintf("%dms", result.Metadata.ExecutionTimeMs))
	writeRow(writer, "RUN ID", result.Metadata.RunID)
	writer.Flush()
	if result.Success {
		printJSON(result.Data)
	} else {
		os.Exit(1)
	}
}

func runValidate(global globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: dirigo validate <directive-file>"))
	}
	d, err := directive.LoadFile(args[0])
	if err != nil {
		fatal(err)
	}
	if global.JSON {
		printJSON(map[string]any{"valid": true, "type": d.Type})
		return
	}
	fmt.Printf("%s: valid %s directive\n", args[0], d.Type)
}

func runServe(ctx context.Context, global globalFlags) {
	rt := newRuntime(global)
	defer rt.Close(context.Background())

	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath)
		if err != nil {
			fatal(err)
		}
		watcher.OnChange(rt.ApplyConfig)
		watcher.Start(ctx)
		defer watcher.Stop()
		fmt.Fprintf(os.Stderr, "watching config: %s\n", global.ConfigPath)
	}

	server := dirigomcp.NewServer(rt, "dirigo", runtime.Version)
	if err := server.ServeStdio(); err != nil {
		fatal(err)
	}
}

func runCache(global globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: dirigo cache <stats|clear>"))
	}
	rt := newRuntime(global)
	defer rt.Close(context.Background())

	switch args[0] {
	case "stats":
		stats := rt.CacheStats()
		if global.JSON {
			printJSON(stats)
			return
		}
		writer := newTabWriter()
		writeRow(writer, "CACHE", "ENTRIES", "HITS", "MISSES")
		writeRow(writer, "operations",
			fmt.Sprintf("%d", stats.Operations.Entries),
			fmt.Sprintf("%d", stats.Operations.Hits),
			fmt.Sprintf("%d", stats.Operations.Misses))
		writeRow(writer, "prompts",
			fmt.Sprintf("%d", stats.Prompts.Entries),
			fmt.Sprintf("%d", stats.Prompts.Hits),
			fmt.Sprintf("%d", stats.Prompts.Misses))
		writer.Flush()
	case "clear":
		rt.ClearCaches()
		fmt.Println("caches cleared")
	default:
		fatal(fmt.Errorf("unknown cache command %q", args[0]))
	}
}

func runHistory(ctx context.Context, global globalFlags, args []string) {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	runID := flags.String("run", "", "filter by run id")
	limit := flags.Int("limit", 50, "maximum events")
	if err := flags.Parse(args); err != nil {
		fatal(err)
	}

	rt := newRuntime(global)
	defer rt.Close(context.Background())

	store := rt.Audit()
	if store == nil {
		fatal(fmt.Errorf("audit trail is not enabled; set audit.enabled in config"))
	}
	events, err := store.List(ctx, audit.Filter{RunID: *runID, Limit: *limit})
	if err != nil {
		fatal(err)
	}
	if global.JSON {
		printJSON(events)
		return
	}

	writer := newTabWriter()
	writeRow(writer, "RUN", "OP", "STORE", "STATUS", "ERROR", "STARTED")
	for _, ev := range events {
		writeRow(writer, ev.RunID, ev.OpKind, ev.StoreKey, ev.Status, ev.Error,
			ev.StartedAt.Format(time.RFC3339))
	}
	writer.Flush()
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		col = strings.TrimSpace(col)
		if col == "" {
			col = "-"
		}
		cols[i] = col
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func printUsage() {
	fmt.Println(`dirigo - sandboxed directive execution runtime

Usage:
  dirigo [global flags] <command> [args]

Global flags:
  --config <path>   Path to config.yaml
  --project <path>  Project path directives run against (default ".")
  --json            JSON output

Commands:
  run <file>        Execute a directive file (JSON or YAML)
  validate <file>   Parse and validate a directive file
  serve             Expose the runtime as MCP tools on stdio
  cache stats       Show cache statistics
  cache clear       Empty all caches
  history [--run id] [--limit n]
                    List recorded execution events
  version
  help`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
