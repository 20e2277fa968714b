package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/autoqa/agentcore/internal/agentstate"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent's run/guide/stop operations as MCP tools on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		return server.ServeStdio(newMCPServer(rt))
	},
}

func newMCPServer(rt *agentRuntime) *server.MCPServer {
	s := server.NewMCPServer("agentctl", version, server.WithToolCapabilities(true))

	s.AddTool(
		mcp.NewTool("agent/run_test",
			mcp.WithDescription("Run a UI test case by id on the connected head unit"),
			mcp.WithString("test_id", mcp.Required(), mcp.Description("Test case identifier")),
			mcp.WithBoolean("use_learned", mcp.Description("Replay the learned solution when one exists (default true)")),
			mcp.WithNumber("max_retries", mcp.Description("Per-step retry budget (default 3)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			testID, _ := args["test_id"].(string)
			useLearned := true
			if v, ok := args["use_learned"].(bool); ok {
				useLearned = v
			}
			retries := 3
			if v, ok := args["max_retries"].(float64); ok {
				retries = int(v)
			}
			res, err := rt.orch.RunTest(ctx, testID, useLearned, retries)
			if err != nil {
				return errorResult(err.Error()), nil
			}
			return jsonResult(res)
		},
	)

	s.AddTool(
		mcp.NewTool("agent/execute_command",
			mcp.WithDescription("Execute a free-form natural-language UI command"),
			mcp.WithString("command", mcp.Required(), mcp.Description("What to do, in plain language")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			command, _ := req.GetArguments()["command"].(string)
			res, err := rt.orch.ExecuteCommand(ctx, command, 3)
			if err != nil {
				return errorResult(err.Error()), nil
			}
			return jsonResult(res)
		},
	)

	s.AddTool(
		mcp.NewTool("agent/send_guidance",
			mcp.WithDescription("Answer a suspended run's human-in-the-loop prompt"),
			mcp.WithString("text", mcp.Description("Free-text guidance, e.g. \"press home and try again\"")),
			mcp.WithNumber("x", mcp.Description("Tap coordinate X (paired with y)")),
			mcp.WithNumber("y", mcp.Description("Tap coordinate Y (paired with x)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			text, _ := args["text"].(string)
			var coord *agentstate.Coordinate
			if x, okX := args["x"].(float64); okX {
				if y, okY := args["y"].(float64); okY {
					coord = &agentstate.Coordinate{X: int(x), Y: int(y), Source: agentstate.SourceHITL, Confidence: 100}
				}
			}
			res, err := rt.orch.SendGuidance(ctx, text, coord, "")
			if err != nil {
				return errorResult(err.Error()), nil
			}
			return jsonResult(res)
		},
	)

	s.AddTool(
		mcp.NewTool("agent/status",
			mcp.WithDescription("Report the current run's status"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return jsonResult(rt.orch.GetStatus())
		},
	)

	s.AddTool(
		mcp.NewTool("agent/stop",
			mcp.WithDescription("Stop the current run at its next checkpoint"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rt.orch.Stop()
			return textResult("stop requested"), nil
		},
	)

	s.AddTool(
		mcp.NewTool("agent/pause",
			mcp.WithDescription("Pause the current run at its next checkpoint"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rt.orch.Pause()
			return textResult("pause requested"), nil
		},
	)

	s.AddTool(
		mcp.NewTool("agent/resume",
			mcp.WithDescription("Resume a paused run"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rt.orch.Resume()
			return textResult("resumed"), nil
		},
	)

	return s
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshaling result: %v", err)), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

func errorResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultError(text)
}
