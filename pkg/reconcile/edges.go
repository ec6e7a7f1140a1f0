package reconcile

import (
	"fmt"

	"github.com/aretw0/easel/pkg/domain"
)

func (st *state) planEdges(proposed []domain.Edge) error {
	claimed := make(map[string]bool)
	kept := make(map[string]bool, len(st.graph.Edges))

	if proposed == nil {
		// Re-validate persisted edges against the planned nodes and handles.
		for _, e := range st.graph.Edges {
			reason, derived := st.checkEdge(e, claimed)
			if reason != "" {
				if !derived {
					st.warn("edge", e.ID, reason)
				}
				continue
			}
			claimed[e.TargetHandleID] = true
			kept[e.ID] = true
			st.edges = append(st.edges, e)
		}
		st.deleteUnkeptEdges(kept)
		return nil
	}

	var errs domain.ValidationErrors
	seen := make(map[string]bool, len(proposed))
	for i, e := range proposed {
		if e.ID != "" {
			if seen[e.ID] {
				errs = append(errs, &domain.ValidationError{Field: fmt.Sprintf("edges[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", e.ID)})
				continue
			}
			seen[e.ID] = true
		}

		resolved := domain.Edge{
			ID:             e.ID,
			SourceNodeID:   st.resolveNode(e.SourceNodeID),
			SourceHandleID: st.resolveHandle(e.SourceHandleID),
			TargetNodeID:   st.resolveNode(e.TargetNodeID),
			TargetHandleID: st.resolveHandle(e.TargetHandleID),
		}
		if reason, _ := st.checkEdge(resolved, claimed); reason != "" {
			st.warn("edge", e.ID, reason)
			continue
		}
		claimed[resolved.TargetHandleID] = true

		if prev, ok := st.pEdges[e.ID]; ok && e.ID != "" {
			kept[e.ID] = true
			if prev != resolved {
				st.cs.DeleteEdges = append(st.cs.DeleteEdges, prev.ID)
				st.cs.CreateEdges = append(st.cs.CreateEdges, resolved)
			}
			st.edges = append(st.edges, resolved)
			continue
		}

		resolved.ID = st.mint(st.edgeRemap, e.ID)
		st.cs.CreateEdges = append(st.cs.CreateEdges, resolved)
		st.edges = append(st.edges, resolved)
	}
	if len(errs) > 0 {
		return errs
	}
	st.deleteUnkeptEdges(kept)
	return nil
}

func (st *state) deleteUnkeptEdges(kept map[string]bool) {
	for _, e := range st.graph.Edges {
		if !kept[e.ID] {
			st.cs.DeleteEdges = append(st.cs.DeleteEdges, e.ID)
		}
	}
}

// checkEdge returns why e cannot exist in the planned graph, or "" if it can.
// derived is true when the failure is caused by an endpoint removed in this plan.
func (st *state) checkEdge(e domain.Edge, claimed map[string]bool) (reason string, derived bool) {
	endpoint := func(role, nodeID, handleID string, want domain.Direction) (domain.Handle, string, bool) {
		if _, ok := st.nodeIdx[nodeID]; !ok {
			_, existed := st.pNodes[nodeID]
			return domain.Handle{}, fmt.Sprintf("%s node %q not found", role, nodeID), existed
		}
		idx, ok := st.handleIdx[handleID]
		if !ok {
			_, existed := st.pHandles[handleID]
			return domain.Handle{}, fmt.Sprintf("%s handle %q not found", role, handleID), existed
		}
		h := st.handles[idx]
		if h.NodeID != nodeID {
			return h, fmt.Sprintf("%s handle %q does not belong to node %q", role, handleID, nodeID), false
		}
		if h.Type != want {
			return h, fmt.Sprintf("%s handle %q is not an %s handle", role, handleID, want), false
		}
		return h, "", false
	}

	src, reason, derived := endpoint("source", e.SourceNodeID, e.SourceHandleID, domain.DirectionOutput)
	if reason != "" {
		return reason, derived
	}
	dst, reason, derived := endpoint("target", e.TargetNodeID, e.TargetHandleID, domain.DirectionInput)
	if reason != "" {
		return reason, derived
	}
	if e.SourceNodeID == e.TargetNodeID {
		return fmt.Sprintf("self-loop on node %q", e.SourceNodeID), false
	}
	if !src.Accepts(dst) {
		return fmt.Sprintf("handles %q and %q share no data type", e.SourceHandleID, e.TargetHandleID), false
	}
	if claimed[e.TargetHandleID] {
		return fmt.Sprintf("duplicate target: input handle %q already has an incoming edge", e.TargetHandleID), false
	}
	return "", false
}
