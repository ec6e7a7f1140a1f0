package domain

import (
	"reflect"
)

// ChangeOp is the kind of write applied to an entity.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// GraphDiff summarises a ChangeSet for previews and history.
// It is designed to be serialized to JSON and rendered by clients.
type GraphDiff struct {
	Rename  *string     `json:"rename,omitempty"`
	Nodes   EntityCount `json:"nodes"`
	Handles EntityCount `json:"handles"`
	Edges   EntityCount `json:"edges"`

	// NodeChanges lists touched nodes. For updates, Fields names the
	// top-level attributes that differ from the persisted node.
	NodeChanges []NodeChange `json:"nodeChanges,omitempty"`
}

// EntityCount counts operations for one entity kind.
type EntityCount struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// NodeChange describes one touched node.
type NodeChange struct {
	NodeID string   `json:"nodeId"`
	Op     ChangeOp `json:"op"`
	Type   NodeType `json:"type,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// Diff summarises cs against the persisted graph it was planned from.
// If old is nil, updates carry no field detail.
func Diff(old *Graph, cs *ChangeSet) *GraphDiff {
	if cs == nil {
		return nil
	}
	diff := &GraphDiff{
		Rename:  cs.Rename,
		Nodes:   EntityCount{Created: len(cs.CreateNodes), Updated: len(cs.UpdateNodes), Deleted: len(cs.DeleteNodes)},
		Handles: EntityCount{Created: len(cs.CreateHandles), Updated: len(cs.UpdateHandles), Deleted: len(cs.DeleteHandles)},
		Edges:   EntityCount{Created: len(cs.CreateEdges), Deleted: len(cs.DeleteEdges)},
	}

	persisted := map[string]Node{}
	if old != nil {
		for _, n := range old.Nodes {
			persisted[n.ID] = n
		}
	}

	for _, n := range cs.CreateNodes {
		diff.NodeChanges = append(diff.NodeChanges, NodeChange{NodeID: n.ID, Op: OpCreate, Type: n.Type})
	}
	for _, n := range cs.UpdateNodes {
		change := NodeChange{NodeID: n.ID, Op: OpUpdate, Type: n.Type}
		if prev, ok := persisted[n.ID]; ok {
			change.Fields = changedNodeFields(prev, n)
		}
		diff.NodeChanges = append(diff.NodeChanges, change)
	}
	for _, id := range cs.DeleteNodes {
		change := NodeChange{NodeID: id, Op: OpDelete}
		if prev, ok := persisted[id]; ok {
			change.Type = prev.Type
		}
		diff.NodeChanges = append(diff.NodeChanges, change)
	}
	return diff
}

func changedNodeFields(old, new Node) []string {
	var fields []string
	if old.Position != new.Position {
		fields = append(fields, "position")
	}
	if old.Size != new.Size {
		fields = append(fields, "size")
	}
	if !reflect.DeepEqual(old.Config, new.Config) {
		fields = append(fields, "config")
	}
	if !reflect.DeepEqual(old.Result, new.Result) {
		fields = append(fields, "result")
	}
	if old.IsDirty != new.IsDirty {
		fields = append(fields, "isDirty")
	}
	if old.TemplateID != new.TemplateID {
		fields = append(fields, "templateId")
	}
	return fields
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *GraphDiff) IsEmpty() bool {
	return d == nil || (d.Rename == nil &&
		d.Nodes == EntityCount{} &&
		d.Handles == EntityCount{} &&
		d.Edges == EntityCount{})
}
