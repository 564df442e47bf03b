package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/permission"
)

func registerTools(s *server.MCPServer, permissions *permission.Manager, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("request_permission",
			mcp.WithDescription(
				"Request human authorization for a tool invocation. "+
					"Blocks until the operator decides or the request times out. "+
					"Returns the SDK-shaped permission result: "+
					`{"behavior":"allow","updatedInput":{...}} or `+
					`{"behavior":"deny","message":"...","interrupt":false}.`,
			),
			mcp.WithString("tool_name",
				mcp.Required(),
				mcp.Description("Name of the tool the agent wants to invoke"),
			),
			mcp.WithObject("input",
				mcp.Description("The tool's input object, shown to the operator"),
			),
			mcp.WithString("session_id",
				mcp.Description("Chat session that owns this request; scopes routing and cached decisions"),
			),
		),
		requestPermissionHandler(permissions, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 1))
}

func requestPermissionHandler(permissions *permission.Manager, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolName, err := req.RequireString("tool_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		args := req.GetArguments()
		input, _ := args["input"].(map[string]interface{})
		sessionID, _ := args["session_id"].(string)

		result, err := permissions.AddRequest(ctx, toolName, input, sessionID)
		if err != nil {
			switch {
			case errors.Is(err, permission.ErrQueueFull):
				return mcp.NewToolResultError("permission queue is full, try again later"), nil
			case errors.Is(err, permission.ErrAborted), errors.Is(err, permission.ErrShutdown):
				return nil, err
			default:
				log.Error("permission request failed", zap.Error(err))
				return mcp.NewToolResultError(err.Error()), nil
			}
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}
