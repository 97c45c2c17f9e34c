package events

import (
	"slices"

	"github.com/kode4food/buildflow/pkg/api"
)

// EventFilter selects events
type EventFilter func(*api.Event) bool

func FilterEvents(eventTypes ...api.EventType) EventFilter {
	lookup := map[api.EventType]bool{}
	for _, et := range eventTypes {
		lookup[et] = true
	}
	return func(ev *api.Event) bool {
		return lookup[ev.Type]
	}
}

func FilterRuns(ids ...api.RunID) EventFilter {
	return func(ev *api.Event) bool {
		return slices.Contains(ids, ev.RunID)
	}
}

func AndFilters(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

func OrFilters(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if filter(ev) {
				return true
			}
		}
		return false
	}
}

// All matches every event
func All(*api.Event) bool {
	return true
}

// BuildFilter converts a client subscription into a filter. Empty lists in
// the subscription match everything
func BuildFilter(sub *api.ClientSubscription) EventFilter {
	filters := []EventFilter{}
	if len(sub.RunIDs) > 0 {
		filters = append(filters, FilterRuns(sub.RunIDs...))
	}
	if len(sub.EventTypes) > 0 {
		filters = append(filters, FilterEvents(sub.EventTypes...))
	}
	switch len(filters) {
	case 0:
		return All
	case 1:
		return filters[0]
	default:
		return AndFilters(filters...)
	}
}
