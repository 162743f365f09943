package planner

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// replySchema is the Go-struct mirror of the planner's schema-transport
// payload (§3 PlanResult / §4.2 step 1), reflected into JSON Schema via
// invopop/jsonschema and handed to ChatClient as responseFormat.schema.
type replySchema struct {
	Action      string `json:"action" jsonschema:"enum=continue,enum=complete,enum=blocked,enum=ask_user"`
	Reasoning   string `json:"reasoning"`
	UserMessage string `json:"userMessage,omitempty"`

	ToolCall *toolCallSchema `json:"toolCall,omitempty"`

	CompletionGateCommands      []string `json:"completionGateCommands,omitempty"`
	CompletionGatesDeclaredNone bool     `json:"completionGatesDeclaredNone,omitempty"`
}

type toolCallSchema struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

var (
	schemaOnce   sync.Once
	schemaCache  json.RawMessage
)

// Schema returns the JSON Schema describing a planner reply, reflected once
// and cached. Passed as ChatRequest.ResponseFormat.Schema in schema-transport
// mode (§6).
func Schema() json.RawMessage {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		s := reflector.Reflect(&replySchema{})
		b, err := json.Marshal(s)
		if err != nil {
			schemaCache = json.RawMessage(`{}`)
			return
		}
		schemaCache = b
	})
	return schemaCache
}

// SchemaName is the name passed alongside the schema in responseFormat.
const SchemaName = "planner_reply"
