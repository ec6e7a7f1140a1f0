package cli

import (
	"fmt"
	"os"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/schema"
)

// ValidateGraphFile parses a graph JSON file with the same rules applied to
// program output. Missing kinds are treated as empty.
func ValidateGraphFile(path string) (domain.GraphPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.GraphPayload{}, fmt.Errorf("failed to read graph: %w", err)
	}
	payload, err := schema.ParsePayloadJSON(data, schema.Options{})
	if err != nil {
		return domain.GraphPayload{}, err
	}
	if payload.Nodes == nil {
		payload.Nodes = []domain.Node{}
	}
	if payload.Edges == nil {
		payload.Edges = []domain.Edge{}
	}
	if payload.Handles == nil {
		payload.Handles = []domain.Handle{}
	}
	return payload, nil
}
