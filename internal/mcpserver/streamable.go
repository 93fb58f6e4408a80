// Package mcpserver exposes an MCP server over the streamable HTTP and stdio
// transports.
package mcpserver

import (
	"context"
	"log"
	"net/http"
	"os"

	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/gaspardpetit/rovercam/internal/logx"
)

// NewHandler constructs a Streamable HTTP MCP handler for srv.
func NewHandler(srv *sdkserver.MCPServer) http.Handler {
	return sdkserver.NewStreamableHTTPServer(
		srv,
		sdkserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return ctx
		}),
	)
}

// ServeStdio answers MCP requests on stdin/stdout until ctx is done or stdin
// closes. Transport errors go to the structured log on stderr.
func ServeStdio(ctx context.Context, srv *sdkserver.MCPServer) error {
	s := sdkserver.NewStdioServer(srv)
	s.SetErrorLogger(log.New(logx.Component("mcp"), "", 0))
	return s.Listen(ctx, os.Stdin, os.Stdout)
}
