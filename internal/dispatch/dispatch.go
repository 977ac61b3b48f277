// Package dispatch implements the alternation rule that balances normal and
// preferential calls for a procedure's queue.
package dispatch

import "clinicq/internal/models"

// Select picks the next ticket to call. Both slices must be ordered oldest
// first and contain only waiting tickets from the current clinic day.
// lastCalled is the most recently called ticket for the procedure today, or
// nil when no call has happened yet.
//
// A normal call is followed by a preferential one and vice versa when the
// counterpart queue is non-empty. Without an applicable alternation the
// normal queue drains first; before the day's first call the preferential
// queue is preferred. The second return is false when neither queue has a
// waiting ticket.
func Select(lastCalled *models.Ticket, normal, preferential []models.Ticket) (models.Ticket, bool) {
	if lastCalled == nil {
		if len(preferential) > 0 {
			return preferential[0], true
		}
		if len(normal) > 0 {
			return normal[0], true
		}
		return models.Ticket{}, false
	}

	if lastCalled.Type == models.TypeNormal && len(preferential) > 0 {
		return preferential[0], true
	}
	if lastCalled.Type == models.TypePreferential && len(normal) > 0 {
		return normal[0], true
	}
	if len(normal) > 0 {
		return normal[0], true
	}
	if len(preferential) > 0 {
		return preferential[0], true
	}
	return models.Ticket{}, false
}
