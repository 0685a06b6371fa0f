package domain

import (
	"errors"
	"fmt"
)

// ChangeKind tags a ProposedChange variant.
type ChangeKind string

const (
	ChangeAdd          ChangeKind = "add"
	ChangeRemove       ChangeKind = "remove"
	ChangeSchedule     ChangeKind = "schedule"
	ChangeReprioritize ChangeKind = "reprioritize"
	ChangeLink         ChangeKind = "link"
	ChangeUnlink       ChangeKind = "unlink"
)

// ProposedChange is a tagged variant; exactly the fields belonging to Kind are
// meaningful. Build values with the constructors below.
type ProposedChange struct {
	Kind            ChangeKind `json:"kind" enum:"add,remove,schedule,reprioritize,link,unlink"`
	Item            *WorkItem  `json:"item,omitempty"`
	ItemID          string     `json:"item_id,omitempty"`
	StartPeriod     *int       `json:"start_period,omitempty"`
	DurationPeriods *int       `json:"duration_periods,omitempty"`
	Priority        *int       `json:"priority,omitempty"`
	FromItemID      string     `json:"from_item_id,omitempty"`
	ToItemID        string     `json:"to_item_id,omitempty"`
}

func AddItem(item WorkItem) ProposedChange {
	c := item.Clone()
	return ProposedChange{Kind: ChangeAdd, Item: &c}
}

func RemoveItem(id string) ProposedChange {
	return ProposedChange{Kind: ChangeRemove, ItemID: id}
}

// ScheduleItem pins an item at start. A nil duration lets the projection size
// the window from the item's demand.
func ScheduleItem(id string, start int, duration *int) ProposedChange {
	return ProposedChange{Kind: ChangeSchedule, ItemID: id, StartPeriod: &start, DurationPeriods: copyInt(duration)}
}

func Reprioritize(id string, priority int) ProposedChange {
	return ProposedChange{Kind: ChangeReprioritize, ItemID: id, Priority: &priority}
}

func Link(from, to string) ProposedChange {
	return ProposedChange{Kind: ChangeLink, FromItemID: from, ToItemID: to}
}

func Unlink(from, to string) ProposedChange {
	return ProposedChange{Kind: ChangeUnlink, FromItemID: from, ToItemID: to}
}

// Validate checks that the payload required by Kind is present.
func (c ProposedChange) Validate() error {
	switch c.Kind {
	case ChangeAdd:
		if c.Item == nil || c.Item.ID == "" {
			return errors.New("add change requires item with id")
		}
	case ChangeRemove:
		if c.ItemID == "" {
			return errors.New("remove change requires item_id")
		}
	case ChangeSchedule:
		if c.ItemID == "" || c.StartPeriod == nil {
			return errors.New("schedule change requires item_id and start_period")
		}
		if *c.StartPeriod < 0 {
			return fmt.Errorf("schedule change start_period %d is negative", *c.StartPeriod)
		}
		if c.DurationPeriods != nil && *c.DurationPeriods < 1 {
			return fmt.Errorf("schedule change duration_periods %d must be >= 1", *c.DurationPeriods)
		}
	case ChangeReprioritize:
		if c.ItemID == "" || c.Priority == nil {
			return errors.New("reprioritize change requires item_id and priority")
		}
	case ChangeLink, ChangeUnlink:
		if c.FromItemID == "" || c.ToItemID == "" {
			return fmt.Errorf("%s change requires from_item_id and to_item_id", c.Kind)
		}
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return nil
}
