package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zace-dev/zace/internal/journal"
	"github.com/zace-dev/zace/internal/tool"
)

// SearchSessionMessagesTool implements the spec's search_session_messages
// tool: a substring search over a session's journaled message entries.
type SearchSessionMessagesTool struct {
	sessionsDir string
}

func NewSearchSessionMessagesTool(sessionsDir string) *SearchSessionMessagesTool {
	return &SearchSessionMessagesTool{sessionsDir: sessionsDir}
}

func (t *SearchSessionMessagesTool) Name() string { return "search_session_messages" }
func (t *SearchSessionMessagesTool) Description() string {
	return "在会话日志中按关键词搜索历史消息"
}

func (t *SearchSessionMessagesTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "sessionId", Type: "string", Description: "会话 ID", Required: true},
		tool.SchemaParam{Name: "query", Type: "string", Description: "要搜索的关键词", Required: true},
		tool.SchemaParam{Name: "limit", Type: "integer", Description: "最多返回的匹配数量（默认 20）", Required: false},
	)
}

func (t *SearchSessionMessagesTool) Init(_ context.Context) error { return nil }
func (t *SearchSessionMessagesTool) Close() error                 { return nil }

type searchSessionMessagesArgs struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

func (t *SearchSessionMessagesTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a searchSessionMessagesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("参数解析失败: %v", err)}, nil
	}
	if a.SessionID == "" || a.Query == "" {
		return tool.ToolResult{Error: "sessionId 和 query 均为必填"}, nil
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 20
	}

	path := filepath.Join(t.sessionsDir, a.SessionID+".jsonl")
	entries, err := journal.ReadAll(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("读取会话日志失败: %v", err)}, nil
	}

	var matches []string
	for _, e := range entries {
		if e.Type != journal.EntryMessage {
			continue
		}
		content, _ := e.Payload["content"].(string)
		if !strings.Contains(strings.ToLower(content), strings.ToLower(a.Query)) {
			continue
		}
		role, _ := e.Payload["role"].(string)
		matches = append(matches, fmt.Sprintf("[%s] %s: %s", e.Timestamp, role, content))
		if len(matches) >= limit {
			break
		}
	}

	if len(matches) == 0 {
		return tool.ToolResult{Output: "no matching messages found"}, nil
	}
	return tool.ToolResult{Output: strings.Join(matches, "\n")}, nil
}

// WriteSessionMessageTool implements the spec's write_session_message tool:
// appends a message entry directly to a session's journal, letting the
// planner leave itself a durable note outside the live message log (e.g. a
// cross-step reminder that survives compaction).
type WriteSessionMessageTool struct {
	sessionsDir string
}

func NewWriteSessionMessageTool(sessionsDir string) *WriteSessionMessageTool {
	return &WriteSessionMessageTool{sessionsDir: sessionsDir}
}

func (t *WriteSessionMessageTool) Name() string { return "write_session_message" }
func (t *WriteSessionMessageTool) Description() string {
	return "向会话日志追加一条持久化消息"
}

func (t *WriteSessionMessageTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "sessionId", Type: "string", Description: "会话 ID", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "要记录的消息内容", Required: true},
		tool.SchemaParam{Name: "role", Type: "string", Description: "消息角色（默认 assistant）", Required: false},
	)
}

func (t *WriteSessionMessageTool) Init(_ context.Context) error { return nil }
func (t *WriteSessionMessageTool) Close() error                 { return nil }

type writeSessionMessageArgs struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Role      string `json:"role"`
}

func (t *WriteSessionMessageTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a writeSessionMessageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("参数解析失败: %v", err)}, nil
	}
	if a.SessionID == "" || a.Content == "" {
		return tool.ToolResult{Error: "sessionId 和 content 均为必填"}, nil
	}
	role := a.Role
	if role == "" {
		role = "assistant"
	}

	j, err := journal.Open(t.sessionsDir, a.SessionID)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("打开会话日志失败: %v", err)}, nil
	}
	if err := j.Message(role, a.Content); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("写入会话日志失败: %v", err)}, nil
	}
	return tool.ToolResult{Output: "message recorded"}, nil
}
