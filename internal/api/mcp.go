package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/insurepredict/internal/ingest"
	"github.com/kalambet/insurepredict/internal/predict"
	"github.com/kalambet/insurepredict/internal/present"
	"github.com/kalambet/insurepredict/internal/schema"
)

// defaultMCPRenderRows bounds how many rows a tool result prints.
const defaultMCPRenderRows = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline  *ingest.Pipeline
	Predictor predict.Predictor
	Version   string
	// MaxFileBytes caps files read from disk; <= 0 means 256MB.
	MaxFileBytes int64
}

// NewMCPServer creates an MCP server exposing the preview and predict tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"insurepredict",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("insurepredict: preview insurance CSV files and predict a Response for every row."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("preview_csv",
			mcp.WithDescription("Parse a CSV of insurance records, validate its header and show the preview table."),
			mcp.WithString("path", mcp.Description("Path of a .csv file to read")),
			mcp.WithString("content", mcp.Description("CSV text, used when path is empty")),
			mcp.WithString("projection", mcp.Description("full (default) or id-response")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to print (default 50)")),
		),
		mcpPreviewCSV(deps),
	)

	s.AddTool(
		mcp.NewTool("predict_csv",
			mcp.WithDescription("Parse a CSV of insurance records and predict a Response for every previewed row."),
			mcp.WithString("path", mcp.Description("Path of a .csv file to read")),
			mcp.WithString("content", mcp.Description("CSV text, used when path is empty")),
			mcp.WithString("projection", mcp.Description("full or id-response (default)")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to print (default 50)")),
		),
		mcpPredictCSV(deps),
	)

	return s
}

// toolInput is a CSV named by path or passed inline.
type toolInput struct {
	name    string
	content []byte
}

func readToolInput(req mcp.CallToolRequest, maxBytes int64) (toolInput, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}

	if p := strings.TrimSpace(req.GetString("path", "")); p != "" {
		if !strings.HasSuffix(strings.ToLower(p), ".csv") {
			return toolInput{}, errNotCSV
		}
		info, err := os.Stat(p)
		if err != nil {
			return toolInput{}, err
		}
		if info.Size() > maxBytes {
			return toolInput{}, fmt.Errorf("%s is larger than %d bytes", p, maxBytes)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return toolInput{}, err
		}
		return toolInput{name: filepath.Base(p), content: b}, nil
	}

	content := req.GetString("content", "")
	if content == "" {
		return toolInput{}, errors.New("one of path or content is required")
	}
	if int64(len(content)) > maxBytes {
		return toolInput{}, fmt.Errorf("content is larger than %d bytes", maxBytes)
	}
	return toolInput{name: "upload.csv", content: []byte(content)}, nil
}

func renderLimit(req mcp.CallToolRequest) int {
	limit := req.GetInt("limit", defaultMCPRenderRows)
	if limit <= 0 {
		limit = defaultMCPRenderRows
	}
	return limit
}

func mcpPreviewCSV(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := readToolInput(req, deps.MaxFileBytes)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		projection, err := present.ParseProjection(req.GetString("projection", "full"))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Pipeline.Run(ctx, bytes.NewReader(in.content), nil)
		if err != nil && len(res.Rows) == 0 {
			return mcpError(err.Error()), nil
		}

		text, rerr := renderResult(deps, res.Rows, projection, renderLimit(req), summary(res, err))
		if rerr != nil {
			return mcpError(fmt.Sprintf("failed to render table: %v", rerr)), nil
		}
		return mcpText(text), nil
	}
}

func mcpPredictCSV(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := readToolInput(req, deps.MaxFileBytes)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		projection, err := present.ParseProjection(req.GetString("projection", "id-response"))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Pipeline.Run(ctx, bytes.NewReader(in.content), nil)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if len(res.Rows) == 0 {
			return mcpError(noRowsMessage), nil
		}

		rows, err := deps.Predictor.Predict(ctx, predict.Request{
			Schema: deps.Pipeline.Schema(),
			Rows:   res.Rows,
			File:   predict.Upload{Name: in.name, Content: in.content},
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}

		text, err := renderResult(deps, rows, projection, renderLimit(req), summary(res, nil))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to render table: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("predictor: %s\n%s", deps.Predictor.Mode(), text)), nil
	}
}

const noRowsMessage = "no rows to predict: the file has a header but no data"

func summary(res ingest.Result, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows (%s)", len(res.Rows), res.State)
	if res.Truncated() {
		fmt.Fprintf(&b, "\nwarning: %s", res.Warning.Error())
	}
	if err != nil {
		fmt.Fprintf(&b, "\nerror: %s", err.Error())
	}
	return b.String()
}

func renderResult(deps MCPDeps, rows []schema.Row, projection present.Projection, limit int, header string) (string, error) {
	shown := rows
	if len(shown) > limit {
		shown = shown[:limit]
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	if err := present.RenderText(&b, present.Build(deps.Pipeline.Schema(), shown, projection)); err != nil {
		return "", err
	}
	if len(rows) > len(shown) {
		fmt.Fprintf(&b, "... %d more rows not shown\n", len(rows)-len(shown))
	}
	return b.String(), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
