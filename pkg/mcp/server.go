// Package mcp exposes the board bridge as Model Context Protocol tools so an
// assistant can help a learner connect, flash and debug their board.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/urmzd/ninho/pkg/device"
)

// Server wraps the MCP server with the board controller
type Server struct {
	mcpServer  *server.MCPServer
	controller device.Controller
	subscriber device.EventSubscriber

	expectedFirmware string
}

// Option configures a Server.
type Option func(*Server)

// WithExpectedFirmware sets the version get_firmware_version compares against.
func WithExpectedFirmware(version string) Option {
	return func(s *Server) { s.expectedFirmware = version }
}

// NewServer creates a new MCP server for the board
func NewServer(controller device.Controller, subscriber device.EventSubscriber, opts ...Option) *Server {
	s := &Server{
		controller: controller,
		subscriber: subscriber,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		"ninho",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
