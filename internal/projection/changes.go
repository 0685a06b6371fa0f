package projection

import (
	"fmt"

	"planline/internal/domain"
)

// WorkingSet is the item collection and graph after changes are folded in.
type WorkingSet struct {
	Items []domain.WorkItem
	Graph domain.OrchestrationGraph
}

// NewWorkingSet deep-copies items and graph so later changes never reach the
// caller's values.
func NewWorkingSet(items []domain.WorkItem, graph domain.OrchestrationGraph) WorkingSet {
	ws := WorkingSet{
		Items: make([]domain.WorkItem, len(items)),
		Graph: domain.OrchestrationGraph{Edges: append([]domain.DependencyEdge(nil), graph.Edges...)},
	}
	for i, it := range items {
		ws.Items[i] = it.Clone()
	}
	return ws
}

func (ws WorkingSet) find(id string) int {
	for i, it := range ws.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// ApplyChange folds one change into a copy of ws. Changes naming ids that
// are not in the working set leave it unchanged.
func ApplyChange(ws WorkingSet, c domain.ProposedChange) WorkingSet {
	out := NewWorkingSet(ws.Items, ws.Graph)
	switch c.Kind {
	case domain.ChangeAdd:
		if c.Item == nil {
			return out
		}
		item := c.Item.Clone()
		if i := out.find(item.ID); i >= 0 {
			out.Items[i] = item
		} else {
			out.Items = append(out.Items, item)
		}
	case domain.ChangeRemove:
		i := out.find(c.ItemID)
		if i < 0 {
			return out
		}
		out.Items = append(out.Items[:i], out.Items[i+1:]...)
		edges := out.Graph.Edges[:0]
		for _, e := range out.Graph.Edges {
			if e.FromItemID != c.ItemID && e.ToItemID != c.ItemID {
				edges = append(edges, e)
			}
		}
		out.Graph.Edges = edges
	case domain.ChangeSchedule:
		i := out.find(c.ItemID)
		if i < 0 || c.StartPeriod == nil {
			return out
		}
		start := *c.StartPeriod
		out.Items[i].Status = domain.StatusScheduled
		out.Items[i].ScheduledStart = &start
		out.Items[i].DurationPeriods = nil
		if c.DurationPeriods != nil {
			d := *c.DurationPeriods
			out.Items[i].DurationPeriods = &d
		}
	case domain.ChangeReprioritize:
		i := out.find(c.ItemID)
		if i < 0 || c.Priority == nil {
			return out
		}
		out.Items[i].Priority = *c.Priority
	case domain.ChangeLink:
		e := domain.DependencyEdge{FromItemID: c.FromItemID, ToItemID: c.ToItemID}
		for _, existing := range out.Graph.Edges {
			if existing == e {
				return out
			}
		}
		out.Graph.Edges = append(out.Graph.Edges, e)
	case domain.ChangeUnlink:
		edges := out.Graph.Edges[:0]
		for _, e := range out.Graph.Edges {
			if e.FromItemID != c.FromItemID || e.ToItemID != c.ToItemID {
				edges = append(edges, e)
			}
		}
		out.Graph.Edges = edges
	default:
		panic(fmt.Sprintf("projection: unhandled change kind %q", c.Kind))
	}
	return out
}

// ApplyChanges folds changes left to right.
func ApplyChanges(ws WorkingSet, changes []domain.ProposedChange) WorkingSet {
	out := NewWorkingSet(ws.Items, ws.Graph)
	for _, c := range changes {
		out = ApplyChange(out, c)
	}
	return out
}
