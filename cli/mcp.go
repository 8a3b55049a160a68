// ABOUTME: MCP server subcommand
// ABOUTME: Serves pipeline tools, resources and prompts over stdio
package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/deangilmoreremix/update3.0-new-sub002/handlers"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// NewMCPServer builds a server with every pipeline tool, resource and prompt registered.
func NewMCPServer(store *pipeline.Store) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pipeline",
		Version: Version,
	}, nil)

	handlers.NewPipelineHandlers(store).RegisterTools(server)
	handlers.NewResourceHandlers(store).RegisterResources(server)
	handlers.NewPromptHandlers(store).RegisterPrompts(server)

	return server
}

// MCPCommand starts the MCP server on stdio and runs until the client disconnects.
func MCPCommand(store *pipeline.Store, logger *log.Logger) error {
	logger.Info("starting pipeline MCP server", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := NewMCPServer(store).Run(ctx, &mcp.StdioTransport{})
	store.Wait()
	if failed := store.FailedMoves(); len(failed) > 0 {
		logger.Warn("stage moves left unsaved", "count", len(failed))
	}
	return err
}
