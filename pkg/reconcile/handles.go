package reconcile

import (
	"fmt"

	"github.com/aretw0/easel/pkg/domain"
)

type proposedHandle struct {
	handle domain.Handle
}

func (st *state) planHandles(proposed []domain.Handle) error {
	byNode, err := st.groupHandles(proposed)
	if err != nil {
		return err
	}

	kept := make(map[string]bool, len(st.graph.Handles))
	for _, n := range st.nodes {
		tpl := st.templates[n.ID]
		if tpl.VariablePorts {
			st.planVariableHandles(n, tpl, proposed != nil, byNode[n.ID], kept)
			continue
		}
		synced := st.syncFixedHandles(n, tpl, kept)
		for _, ph := range byNode[n.ID] {
			match := matchPort(synced, ph.handle)
			if match == nil {
				st.warn("handle", ph.handle.ID, fmt.Sprintf("does not match any port of fixed template %s; ignored", tpl.ID))
				continue
			}
			if ph.handle.ID != "" && ph.handle.ID != match.ID {
				st.handleRemap[ph.handle.ID] = match.ID
				st.remap[ph.handle.ID] = match.ID
			}
		}
	}

	for _, h := range st.graph.Handles {
		if !kept[h.ID] {
			st.cs.DeleteHandles = append(st.cs.DeleteHandles, h.ID)
		}
	}
	return nil
}

// groupHandles resolves each proposed handle's owner through the node remap.
func (st *state) groupHandles(proposed []domain.Handle) (map[string][]proposedHandle, error) {
	byNode := make(map[string][]proposedHandle)
	var errs domain.ValidationErrors
	seen := make(map[string]bool, len(proposed))

	for i, h := range proposed {
		path := fmt.Sprintf("handles[%d]", i)
		if h.ID != "" {
			if seen[h.ID] {
				errs = append(errs, &domain.ValidationError{Field: path + ".id", Reason: fmt.Sprintf("duplicate id %q", h.ID)})
				continue
			}
			seen[h.ID] = true
		}
		owner := st.resolveNode(h.NodeID)
		if _, ok := st.nodeIdx[owner]; !ok {
			return nil, &domain.ReferentialError{Entity: "handle", ID: h.ID, Field: "nodeId", Ref: h.NodeID}
		}
		if prev, ok := st.pHandles[h.ID]; ok && h.ID != "" && prev.NodeID != owner {
			errs = append(errs, &domain.ValidationError{
				Field:  path + ".nodeId",
				Reason: fmt.Sprintf("handle belongs to node %s and cannot move", prev.NodeID),
				Value:  h.NodeID,
			})
			continue
		}
		byNode[owner] = append(byNode[owner], proposedHandle{handle: h})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return byNode, nil
}

// planVariableHandles diffs the handles of a variable-port node like any other entity.
func (st *state) planVariableHandles(n domain.Node, tpl domain.Template, present bool, proposed []proposedHandle, kept map[string]bool) {
	if !present || (st.created[n.ID] && len(proposed) == 0) {
		if st.created[n.ID] {
			for _, th := range tpl.Handles {
				h := th.Instantiate(st.r.newID(), n.ID)
				st.addHandle(h)
				st.cs.CreateHandles = append(st.cs.CreateHandles, h)
			}
			return
		}
		for _, h := range st.handlesByNode[n.ID] {
			kept[h.ID] = true
			st.addHandle(h.Clone())
		}
		return
	}

	for _, ph := range proposed {
		h := ph.handle.Clone()
		h.NodeID = n.ID
		if prev, ok := st.pHandles[h.ID]; ok && h.ID != "" {
			kept[h.ID] = true
			st.addHandle(h)
			if !sameHandle(prev, h) {
				st.cs.UpdateHandles = append(st.cs.UpdateHandles, h)
			}
			continue
		}
		h.ID = st.mint(st.handleRemap, ph.handle.ID)
		st.addHandle(h)
		st.cs.CreateHandles = append(st.cs.CreateHandles, h)
	}
}

// syncFixedHandles forces the handles of n to mirror tpl: missing ports are
// created, drifted ones corrected and extra ones deleted (by omission from kept).
func (st *state) syncFixedHandles(n domain.Node, tpl domain.Template, kept map[string]bool) []domain.Handle {
	existing := st.handlesByNode[n.ID]
	claimed := make(map[string]bool, len(existing))
	synced := make([]domain.Handle, 0, len(tpl.Handles))

	find := func(match func(domain.Handle) bool) *domain.Handle {
		for i := range existing {
			if !claimed[existing[i].ID] && match(existing[i]) {
				return &existing[i]
			}
		}
		return nil
	}

	for _, th := range tpl.Handles {
		cur := find(func(h domain.Handle) bool { return h.TemplateHandleID == th.ID })
		if cur == nil {
			cur = find(func(h domain.Handle) bool { return h.Type == th.Type && h.Order == th.Order })
		}
		if cur != nil {
			claimed[cur.ID] = true
			kept[cur.ID] = true
			want := th.Instantiate(cur.ID, n.ID)
			if !th.Matches(*cur) || cur.NodeID != n.ID {
				st.cs.UpdateHandles = append(st.cs.UpdateHandles, want)
			}
			st.addHandle(want)
			synced = append(synced, want)
			continue
		}
		h := th.Instantiate(st.r.newID(), n.ID)
		st.addHandle(h)
		st.cs.CreateHandles = append(st.cs.CreateHandles, h)
		synced = append(synced, h)
	}
	return synced
}

// matchPort finds the synced handle a client-proposed handle stands for.
func matchPort(synced []domain.Handle, h domain.Handle) *domain.Handle {
	for i := range synced {
		if h.ID != "" && synced[i].ID == h.ID {
			return &synced[i]
		}
	}
	if h.TemplateHandleID != "" {
		for i := range synced {
			if synced[i].TemplateHandleID == h.TemplateHandleID {
				return &synced[i]
			}
		}
		return nil
	}
	for i := range synced {
		if synced[i].Type == h.Type && synced[i].Order == h.Order {
			return &synced[i]
		}
	}
	return nil
}
