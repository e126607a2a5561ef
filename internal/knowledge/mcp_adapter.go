package knowledge

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ToMCPTool adapts a ToolDescriptor to mark3labs/mcp-go's tool
// representation, so a Directory's catalog can be published through an MCP
// tool listing alongside (or instead of) being fed straight to the model's
// own tool-use vocabulary. Isolated in this one file since mcp-go's builder
// API is the one dependency in this module whose exact call shape could
// not be verified against a live module cache; a signature drift is a
// one-file fix.
func ToMCPTool(d ToolDescriptor) mcp.Tool {
	return mcp.NewTool(d.Name,
		mcp.WithDescription(d.Description),
		mcp.WithString("query", mcp.Required(), mcp.Description("free-text search query")),
	)
}
