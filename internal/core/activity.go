package core

// ActivityKind classifies what an agent is currently doing, derived
// from its output stream.
type ActivityKind string

const (
	ActivityIdle     ActivityKind = "idle"
	ActivityThinking ActivityKind = "thinking"
	ActivityToolUse  ActivityKind = "tool_use"
	ActivityText     ActivityKind = "text"
)

// Activity is a lightweight status signal for live observers. ToolName
// is only set for tool_use.
type Activity struct {
	Kind     ActivityKind `json:"kind"`
	ToolName string       `json:"toolName,omitempty"`
}

func ThinkingActivity() Activity        { return Activity{Kind: ActivityThinking} }
func TextActivity() Activity            { return Activity{Kind: ActivityText} }
func ToolUseActivity(name string) Activity {
	return Activity{Kind: ActivityToolUse, ToolName: name}
}
