// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the directive runtime as MCP tools so external
// clients can submit directives and inspect runtime state over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/dirigo/pkg/audit"
	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/runtime"
)

// Server wraps the mcp-go server around a directive runtime.
type Server struct {
	mcpServer *server.MCPServer
	rt        *runtime.Runtime
}

// NewServer creates an MCP server exposing the runtime's tools.
func NewServer(rt *runtime.Runtime, name, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		rt:        rt,
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on stdio and blocks until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.register("execute_directive",
		"Execute a JSON directive (orchestration pipeline or state machine) against a project path",
		s.handleExecuteDirective)
	s.register("cache_stats",
		"Report operation and prompt cache statistics",
		s.handleCacheStats)
	s.register("clear_caches",
		"Empty the operation, prompt and directive caches",
		s.handleClearCaches)
	s.register("queue_stats",
		"Report operation queue statistics",
		s.handleQueueStats)
	s.register("execution_history",
		"List recorded execution events, optionally filtered by runId",
		s.handleExecutionHistory)
}

func (s *Server) register(name, description string, handler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)) {
	tool := mcp.NewTool(name, mcp.WithDescription(description))
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		return handler(ctx, args)
	})
}

func (s *Server) handleExecuteDirective(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	payload, err := directivePayload(args["directive"])
	if err != nil {
		return errorResult(err.Error()), nil
	}
	d, err := directive.ParseJSON(payload)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	projectPath, _ := args["projectPath"].(string)
	if projectPath == "" {
		return errorResult(`"projectPath" argument is required`), nil
	}

	result := s.rt.ExecuteDirective(ctx, d, projectPath)
	return jsonResult(result)
}

func (s *Server) handleCacheStats(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	return jsonResult(s.rt.CacheStats())
}

func (s *Server) handleClearCaches(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	s.rt.ClearCaches()
	return textResult("caches cleared"), nil
}

func (s *Server) handleQueueStats(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
	return jsonResult(s.rt.QueueStats())
}

func (s *Server) handleExecutionHistory(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	store := s.rt.Audit()
	if store == nil {
		return errorResult("audit trail is not enabled"), nil
	}
	filter := audit.Filter{Limit: 50}
	if runID, ok := args["runId"].(string); ok {
		filter.RunID = runID
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		filter.Limit = int(limit)
	}
	events, err := store.List(ctx, filter)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(events)
}

// directivePayload accepts either a JSON string or an inline object.
func directivePayload(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf(`"directive" argument is required`)
		}
		return []byte(v), nil
	case map[string]any:
		return json.Marshal(v)
	case nil:
		return nil, fmt.Errorf(`"directive" argument is required`)
	default:
		return nil, fmt.Errorf("unsupported directive argument type %T", value)
	}
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: string(payload)}},
		StructuredContent: value,
	}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: message}},
	}
}
