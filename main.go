// ABOUTME: Entry point for the pipeline MCP server and CLI
// ABOUTME: Loads config, wires the deal gateway and store, then routes to a command
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deangilmoreremix/update3.0-new-sub002/charm"
	"github.com/deangilmoreremix/update3.0-new-sub002/cli"
	"github.com/deangilmoreremix/update3.0-new-sub002/config"
	"github.com/deangilmoreremix/update3.0-new-sub002/db"
	"github.com/deangilmoreremix/update3.0-new-sub002/insight"
	"github.com/deangilmoreremix/update3.0-new-sub002/logging"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
)

const version = "0.1.0"

type storeCommand func(*pipeline.Store, []string) error

var commands = map[string]storeCommand{
	"list":    cli.ListDealsCommand,
	"board":   cli.BoardCommand,
	"add":     cli.AddDealCommand,
	"update":  cli.UpdateDealCommand,
	"move":    cli.MoveDealCommand,
	"history": cli.HistoryCommand,
	"delete":  cli.DeleteDealCommand,
	"insight": cli.InsightCommand,
	"stale":   cli.StaleCommand,
	"viz":     cli.VizCommand,
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/pipeline/pipeline.db)")
	backend := flag.String("backend", "", "Storage backend: sqlite or charm")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("pipeline version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]
	commandArgs := args[1:]

	// sync manages the charm link itself and never needs a store
	if command == "sync" {
		if err := charm.SyncCommand(commandArgs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if command == "config" {
		config.LoadDotEnv()
		if err := cli.ConfigCommand(config.Path(), commandArgs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	run, ok := commands[command]
	if !ok && command != "mcp" {
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", cfg.LogLevel)
	}

	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open pipeline", "backend", cfg.Backend, "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.FetchDeals(ctx)
	cancel()
	if err != nil {
		logger.Warn("failed to load deals", "err", err)
	}

	if command == "mcp" {
		err = cli.MCPCommand(store, logger)
	} else {
		err = run(store, commandArgs)
	}

	_ = store.Close()
	cleanup()

	if err != nil {
		logger.Error("command failed", "command", command, "err", err)
		os.Exit(1)
	}
}

// openStore builds the gateway for the configured backend and a store on top of it.
func openStore(cfg *config.Config, logger *log.Logger) (*pipeline.Store, func(), error) {
	var gateway pipeline.Gateway
	cleanup := func() {}

	switch cfg.Backend {
	case config.BackendSQLite:
		database, err := db.OpenDatabase(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Debug("using sqlite", "path", cfg.DBPath)
		gateway = db.NewDealGateway(database)
		cleanup = func() { _ = database.Close() }
	case config.BackendCharm:
		client, err := charm.GetClient()
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("using charm kv", "host", client.Config().Host)
		gateway = charm.NewDealGateway(client)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	var insights pipeline.InsightGenerator
	switch cfg.Insight.Provider {
	case config.ProviderOpenAI:
		insights = insight.NewClient(cfg.Insight.BaseURL, cfg.Insight.APIKey, cfg.Insight.Model, 60*time.Second)
	default:
		insights = insight.NewRuleBased()
	}

	retry := pipeline.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryAttempts

	store := pipeline.NewStore(gateway, insights,
		pipeline.WithUserID(cfg.UserID),
		pipeline.WithLogger(logger),
		pipeline.WithRetryPolicy(retry),
	)
	return store, cleanup, nil
}

func printUsage() {
	fmt.Printf(`pipeline v%s - Sales pipeline deal-stage engine

USAGE:
  pipeline [global flags] <command> [flags] [args]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       SQLite database path (default: ~/.local/share/pipeline/pipeline.db)
  --backend <name>       Storage backend: sqlite or charm (default from config)

COMMANDS:
  mcp                    Start MCP server for Claude Desktop
  list                   List deals
    --stage <stage>        Filter by stage
  board                  Show the pipeline board
  add                    Add a new deal
    --title <title>        Deal title (required)
    --value <amount>       Deal value
    --currency <code>      Currency code (default: USD)
    --stage <stage>        Stage (default: qualification)
    --company <company>    Company name
    --contact <name>       Contact name
    --due <YYYY-MM-DD>     Expected close date
    --priority <level>     low, medium or high
    --notes <notes>        Notes
  update [flags] <id>    Update an existing deal (same flags as add)
  move <id> <stage>      Move a deal to another stage (reverted if it cannot be saved)
    --index <n>            Position in the destination column
  history <id>           Show a deal's stage changes
  delete <id>            Delete a deal
  insight <id>           Generate an insight for a deal
  stale                  List deals stuck in a stage
    --days <n>             Threshold in days (default: 14)
  viz                    Print a pipeline summary
  viz graph              Generate a Graphviz pipeline graph
    --output <file>        Output file (default: stdout)
  sync <subcommand>      Manage charm sync (link, status, now, auto, wipe)
  config <subcommand>    init [--force] writes a default config, show prints it, path prints its location

STAGES:
  qualification, proposal, negotiation, closed-won, closed-lost

EXAMPLES:
  pipeline add --title "Enterprise License" --company "Acme Corp" --value 50000
  pipeline move 3f2a negotiation
  pipeline --backend charm board

`, version)
}
