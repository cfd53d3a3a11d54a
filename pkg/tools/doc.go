// Package tools groups the tool plumbing shared by toolkits and agents:
// [github.com/germanamz/owl/pkg/tools/toolbox] holds tools and dispatches
// calls, [github.com/germanamz/owl/pkg/tools/mcpclient] imports tools from
// the MCP servers in the config and [github.com/germanamz/owl/pkg/tools/mcpserver]
// serves owl's own toolkits for `owl mcp`.
package tools
