package workflow

import (
	"encoding/json"
	"strings"

	"github.com/Mowd/claude-dashboard/internal/core"
)

// streamParser consumes Claude CLI stream-json lines and accumulates
// the agent's visible output. Real format from
// `claude -p --output-format stream-json --include-partial-messages`:
//
//	{"type":"system","subtype":"init","session_id":"..."}
//	{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"..."}}}
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."}]}}
//	{"type":"result","subtype":"success","result":"...","usage":{"input_tokens":10,"output_tokens":20}}
type streamParser struct {
	output     strings.Builder
	resultSeen bool
	tokensIn   *int
	tokensOut  *int

	onStream   func(chunk string)
	onActivity func(activity core.Activity)
}

type claudeStreamLine struct {
	Type    string            `json:"type"`
	Event   *claudeInnerEvent `json:"event,omitempty"`
	Message *claudeMessage    `json:"message,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Usage   *claudeUsage      `json:"usage,omitempty"`
}

type claudeInnerEvent struct {
	Type         string              `json:"type"`
	ContentBlock *claudeContentBlock `json:"content_block,omitempty"`
	Delta        *claudeDelta        `json:"delta,omitempty"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type claudeDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeMessage struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  *int `json:"input_tokens"`
	OutputTokens *int `json:"output_tokens"`
}

func newStreamParser(onStream func(string), onActivity func(core.Activity)) *streamParser {
	if onStream == nil {
		onStream = func(string) {}
	}
	if onActivity == nil {
		onActivity = func(core.Activity) {}
	}
	return &streamParser{onStream: onStream, onActivity: onActivity}
}

// HandleLine processes one stdout line. Malformed lines are kept as
// raw output rather than discarded; the subprocess is alive either
// way, so every line counts as activity for timeout purposes.
func (p *streamParser) HandleLine(line string) {
	var event claudeStreamLine
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		p.append(line + "\n")
		return
	}

	switch event.Type {
	case "stream_event":
		p.handleInner(event.Event)
	case "assistant":
		p.handleAssistant(event.Message)
	case "result":
		p.handleResult(event)
	}
}

func (p *streamParser) handleInner(inner *claudeInnerEvent) {
	if inner == nil {
		return
	}
	switch inner.Type {
	case "content_block_start":
		if inner.ContentBlock == nil {
			return
		}
		switch inner.ContentBlock.Type {
		case "thinking":
			p.onActivity(core.ThinkingActivity())
		case "tool_use":
			name := inner.ContentBlock.Name
			if name == "" {
				name = "unknown"
			}
			p.onActivity(core.ToolUseActivity(name))
		case "text":
			p.onActivity(core.TextActivity())
		}
	case "content_block_delta":
		if inner.Delta != nil && inner.Delta.Type == "text_delta" && inner.Delta.Text != "" {
			p.append(inner.Delta.Text)
		}
	case "content_block_stop":
		p.onActivity(core.Activity{Kind: core.ActivityIdle})
	}
}

// handleAssistant is the fallback for content the partial-message
// stream missed. Containment of the first 100 characters decides
// whether the full message was already streamed.
func (p *streamParser) handleAssistant(msg *claudeMessage) {
	if msg == nil {
		return
	}
	var sb strings.Builder
	for _, c := range msg.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	fullText := sb.String()

	prefix := fullText
	if r := []rune(prefix); len(r) > 100 {
		prefix = string(r[:100])
	}

	if fullText != "" && !strings.Contains(p.output.String(), prefix) {
		if p.output.Len() > 0 {
			p.append("\n\n")
		}
		p.append(fullText)
	} else if p.output.Len() > 0 {
		// Already captured via streaming, just separate the turn.
		p.append("\n\n")
	}
}

func (p *streamParser) handleResult(event claudeStreamLine) {
	if len(event.Result) == 0 || p.resultSeen {
		return
	}
	p.resultSeen = true
	if event.Usage != nil {
		p.tokensIn = event.Usage.InputTokens
		p.tokensOut = event.Usage.OutputTokens
	}
	if p.output.Len() == 0 {
		var s string
		if err := json.Unmarshal(event.Result, &s); err == nil {
			p.output.WriteString(s)
		} else {
			p.output.WriteString(string(event.Result))
		}
	}
}

func (p *streamParser) append(chunk string) {
	p.output.WriteString(chunk)
	p.onStream(chunk)
}

func (p *streamParser) Output() string { return p.output.String() }

func (p *streamParser) ResultSeen() bool { return p.resultSeen }

func (p *streamParser) Tokens() (in, out *int) { return p.tokensIn, p.tokensOut }
