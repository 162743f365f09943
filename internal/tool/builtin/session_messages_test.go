package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriteThenSearchSessionMessagesRoundTrips(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriteSessionMessageTool(dir)
	searcher := NewSearchSessionMessagesTool(dir)

	args, _ := json.Marshal(map[string]string{
		"sessionId": "sess-1",
		"content":   "remember to re-run the lint gate before completing",
	})
	result, err := writer.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute (write): %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	searchArgs, _ := json.Marshal(map[string]string{"sessionId": "sess-1", "query": "lint gate"})
	searchResult, err := searcher.Execute(context.Background(), searchArgs)
	if err != nil {
		t.Fatalf("Execute (search): %v", err)
	}
	if !strings.Contains(searchResult.Output, "lint gate") {
		t.Fatalf("expected match in output, got %q", searchResult.Output)
	}
}

func TestSearchSessionMessagesNoMatches(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriteSessionMessageTool(dir)
	args, _ := json.Marshal(map[string]string{"sessionId": "sess-2", "content": "hello"})
	if _, err := writer.Execute(context.Background(), args); err != nil {
		t.Fatalf("Execute (write): %v", err)
	}

	searcher := NewSearchSessionMessagesTool(dir)
	searchArgs, _ := json.Marshal(map[string]string{"sessionId": "sess-2", "query": "nonexistent"})
	result, err := searcher.Execute(context.Background(), searchArgs)
	if err != nil {
		t.Fatalf("Execute (search): %v", err)
	}
	if result.Output != "no matching messages found" {
		t.Fatalf("expected no-match message, got %q", result.Output)
	}
}

func TestSearchSessionMessagesMissingArgsIsError(t *testing.T) {
	searcher := NewSearchSessionMessagesTool(t.TempDir())
	args, _ := json.Marshal(map[string]string{"sessionId": "sess-3"})
	result, err := searcher.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Error == "" {
		t.Fatal("expected error for missing query")
	}
}
