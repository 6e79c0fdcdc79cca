// Command mcp-parity runs the MCP tool server for the parity harness.
// Uses stdio transport for integration with AI assistants.
package main

import (
	"context"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thipages/js-crud-api/internal/config"
	"github.com/thipages/js-crud-api/internal/fixture"
	"github.com/thipages/js-crud-api/internal/mcpserver"
	"github.com/thipages/js-crud-api/internal/observability"
	"github.com/thipages/js-crud-api/internal/oracle"
)

func main() {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	// stdout carries the protocol; logs go to stderr.
	logger := observability.InitLoggerTo(log.Writer(), cfg.LogLevel)

	exclusions, err := fixture.LoadExclusions(cfg.ExclusionsFile)
	if err != nil {
		log.Fatalf("invalid exclusions: %v", err)
	}
	corpus, err := fixture.NewCorpus(cfg.CorpusDir, cfg.Backend)
	if err != nil {
		logger.Warn("corpus unavailable, list_fixtures disabled", "error", err)
		corpus = nil
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "js-crud-api-parity",
		Version: "v1.0.0",
	}, nil)
	mcpserver.RegisterTools(server, mcpserver.Deps{
		Oracle:     oracle.New(oracle.Env{CookieTransport: cfg.CookieTransport}),
		Corpus:     corpus,
		Exclusions: exclusions,
		Backend:    cfg.Backend,
	})

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
