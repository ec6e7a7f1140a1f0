package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/aretw0/easel/pkg/sandbox"
)

const javascriptContract = "Write the body of a JavaScript function. It receives `nodes`, `edges`, " +
	"`handles`, `templates` and `generateId` and must `return { nodes, edges, handles }`."

const luaContract = "Write a Lua chunk. The globals `nodes`, `edges`, `handles`, `templates` " +
	"and `generateId` are set and the chunk must `return { nodes = nodes, edges = edges, handles = handles }`."

func systemPrompt(language string) string {
	contract := javascriptContract
	if language == "lua" {
		contract = luaContract
	}
	var b strings.Builder
	b.WriteString("You edit a content-generation workflow graph made of nodes, handles (typed ports) and edges.\n")
	b.WriteString("To change the graph, reply with one fenced ```" + language + " code block holding a transformation program.\n")
	b.WriteString(contract + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use generateId() for every new node, handle and edge id.\n")
	b.WriteString("- Every node needs a templateId from `templates` and the matching type.\n")
	b.WriteString("- Edges go from an Output handle to an Input handle of another node, and their data types must overlap.\n")
	b.WriteString("- An Input handle takes at most one edge.\n")
	b.WriteString("- There is no network, filesystem, clock or randomness.\n")
	b.WriteString("If no change is needed, answer in prose without a code block.")
	return b.String()
}

func snapshotMessage(snap sandbox.Snapshot, message string) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return fmt.Sprintf("Current graph:\n```json\n%s\n```\n\n%s", data, message), nil
}

func feedbackMessage(attempt int, err error) string {
	return fmt.Sprintf("Attempt %d failed. %s\nFix the program and reply with the corrected code block.", attempt, domain.Diagnostic(err))
}

// historyMessages replays the prose of earlier turns.
func historyMessages(events []domain.SessionEvent) []ports.ChatMessage {
	var out []ports.ChatMessage
	for _, ev := range events {
		if ev.Type != domain.EventMessage || ev.Content == "" {
			continue
		}
		out = append(out, ports.ChatMessage{Role: string(ev.Role), Content: ev.Content})
	}
	return out
}
