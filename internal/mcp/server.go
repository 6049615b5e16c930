package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/lifecycle"
	"github.com/fyrsmithlabs/collectiond/internal/tenant"
)

// Server serves one owner's collections over MCP.
type Server struct {
	mcp     *mcp.Server
	coord   *lifecycle.Coordinator
	owner   string
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "collectiond")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Owner is the principal every tool call acts as.
	Owner string

	// Logger for structured logging
	Logger *zap.Logger
}

// NewServer creates an MCP server bound to cfg.Owner.
func NewServer(cfg *Config, coord *lifecycle.Coordinator) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if err := tenant.ValidatePrincipal(cfg.Owner); err != nil {
		return nil, fmt.Errorf("invalid owner: %w", err)
	}
	name, version, logger := cfg.Name, cfg.Version, cfg.Logger
	if name == "" {
		name = "collectiond"
	}
	if version == "" {
		version = "dev"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    name,
			Version: version,
		}, nil),
		coord:   coord,
		owner:   cfg.Owner,
		metrics: NewMetrics(logger),
		logger:  logger.With(zap.String("owner_id", cfg.Owner)),
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
