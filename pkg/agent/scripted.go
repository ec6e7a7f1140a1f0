package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/easel/pkg/ports"
)

// ScriptedGenerator replays canned replies in order. It serves tests and
// offline runs where no model is configured.
type ScriptedGenerator struct {
	mu       sync.Mutex
	replies  []string
	next     int
	Requests []ports.GenerateRequest
}

// NewScriptedGenerator creates a generator returning replies in order.
func NewScriptedGenerator(replies ...string) *ScriptedGenerator {
	return &ScriptedGenerator{replies: replies}
}

// Generate returns the next reply, streaming it word by word to onDelta.
func (g *ScriptedGenerator) Generate(ctx context.Context, req ports.GenerateRequest, onDelta func(string)) (string, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	if g.next >= len(g.replies) {
		g.mu.Unlock()
		return "", fmt.Errorf("scripted generator: no reply left for request %d", g.next+1)
	}
	reply := g.replies[g.next]
	g.next++
	g.mu.Unlock()

	if onDelta != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			onDelta(word)
		}
	}
	return reply, ctx.Err()
}

// Calls returns how many replies were consumed.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}
