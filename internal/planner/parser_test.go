package planner

import "testing"

func TestParseSchemaTransport(t *testing.T) {
	reply := TransportReply{Structured: map[string]any{
		"action":    "continue",
		"reasoning": "look around",
		"toolCall": map[string]any{
			"name":      "execute_command",
			"arguments": map[string]any{"command": "ls"},
		},
	}}
	pr := Parse(reply, Options{Mode: OutputAuto}, 0)
	if pr.ParseMode != ModeSchemaTransport {
		t.Fatalf("expected schema_transport, got %s", pr.ParseMode)
	}
	if pr.ToolCall == nil || pr.ToolCall.Name != "execute_command" {
		t.Fatalf("expected execute_command tool call, got %+v", pr.ToolCall)
	}
}

func TestParseSchemaStrictUnsupportedBlocks(t *testing.T) {
	reply := TransportReply{ResponseFormatUnsupported: true, UnsupportedReason: "model rejects response_format"}
	pr := Parse(reply, Options{Mode: OutputSchemaStrict}, 0)
	if pr.Action != ActionBlocked || pr.ParseMode != ModeFailed {
		t.Fatalf("expected blocked/failed, got %+v", pr)
	}
	if pr.SchemaUnsupportedReason == "" {
		t.Fatal("expected schemaUnsupportedReason to be set")
	}
}

func TestParseLegacyCompleteWithGates(t *testing.T) {
	reply := TransportReply{Content: "COMPLETE: all done\nGATES: npm test;;npm run lint"}
	pr := Parse(reply, Options{Mode: OutputPromptOnly}, 0)
	if pr.Action != ActionComplete || pr.ParseMode != ModeLegacy {
		t.Fatalf("expected complete/legacy, got %+v", pr)
	}
	if len(pr.CompletionGateCommands) != 2 {
		t.Fatalf("expected 2 gates, got %v", pr.CompletionGateCommands)
	}
}

func TestParseLegacyCompleteGatesNone(t *testing.T) {
	reply := TransportReply{Content: "COMPLETE: done\nGATES: none"}
	pr := Parse(reply, Options{Mode: OutputPromptOnly}, 0)
	if !pr.CompletionGatesDeclaredNone {
		t.Fatal("expected completionGatesDeclaredNone=true")
	}
}

func TestParseLegacyBlockedAndAskUser(t *testing.T) {
	pr := Parse(TransportReply{Content: "BLOCKED: missing permissions"}, Options{Mode: OutputPromptOnly}, 0)
	if pr.Action != ActionBlocked {
		t.Fatalf("expected blocked, got %+v", pr)
	}
	pr2 := Parse(TransportReply{Content: "ASK_USER: which file?"}, Options{Mode: OutputPromptOnly}, 0)
	if pr2.Action != ActionAskUser {
		t.Fatalf("expected ask_user, got %+v", pr2)
	}
}

func TestParseBareJSONPayload(t *testing.T) {
	reply := TransportReply{Content: `here is my plan: {"action":"continue","reasoning":"ok"} thanks`}
	pr := Parse(reply, Options{Mode: OutputPromptOnly}, 0)
	if pr.ParseMode != ModeJSONStrict || pr.Action != ActionContinue {
		t.Fatalf("expected json_strict/continue, got %+v", pr)
	}
}

func TestParseRepairTrailingComma(t *testing.T) {
	reply := TransportReply{Content: `{"action":"continue","reasoning":"ok",}`}
	pr := Parse(reply, Options{Mode: OutputPromptOnly, MaxRepairs: 2}, 0)
	if pr.ParseMode != ModeRepairJSON {
		t.Fatalf("expected repair_json, got %+v", pr)
	}
}

func TestParseRepairBalancedBraceTruncation(t *testing.T) {
	// The greedy {…} match spans both objects and fails to parse; the
	// trailing-comma pass changes nothing, and truncation to the first
	// balanced object succeeds.
	reply := TransportReply{Content: `{"action":"continue","reasoning":"ok"} trailing garbage {"x":1}`}
	pr := Parse(reply, Options{Mode: OutputPromptOnly, MaxRepairs: 2}, 0)
	if pr.Action != ActionContinue || pr.ParseMode != ModeRepairJSON {
		t.Fatalf("expected continue parsed via repair_json truncation, got %+v", pr)
	}
}

func TestParseFailedWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	reply := TransportReply{Content: "not json, not a prefix, nothing useful"}
	pr := Parse(reply, Options{Mode: OutputPromptOnly, MaxRepairs: 2, InvalidArtifactDir: dir, MaxInvalidArtifactChars: 1000}, 3)
	if pr.Action != ActionBlocked || pr.ParseMode != ModeFailed {
		t.Fatalf("expected blocked/failed, got %+v", pr)
	}
	if pr.InvalidOutputArtifactPath == "" {
		t.Fatal("expected an artifact path")
	}
	if pr.RawInvalidCount != 4 {
		t.Fatalf("expected raw invalid count incremented to 4, got %d", pr.RawInvalidCount)
	}
}

func TestValidateToolCallRejectsMissingCommand(t *testing.T) {
	reply := TransportReply{Content: `{"action":"continue","reasoning":"x","toolCall":{"name":"execute_command","arguments":{}}}`}
	pr := Parse(reply, Options{Mode: OutputPromptOnly}, 0)
	if pr.Action != ActionBlocked {
		t.Fatalf("expected invalid tool call to fall through to failed/blocked, got %+v", pr)
	}
}

func TestValidateToolCallSessionWriteRequiresContent(t *testing.T) {
	reply := TransportReply{Content: `{"action":"continue","reasoning":"x","toolCall":{"name":"write_session_message","arguments":{"sessionId":"s1"}}}`}
	pr := Parse(reply, Options{Mode: OutputPromptOnly}, 0)
	if pr.Action != ActionBlocked {
		t.Fatalf("expected rejection without content, got %+v", pr)
	}
}
