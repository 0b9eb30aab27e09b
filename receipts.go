package chatsync

// ============================================================================
// Delivery Status
// ============================================================================

// DeliveryStatus is the aggregate read state of one of the current user's
// own messages.
type DeliveryStatus string

const (
	// StatusSent means no other participant has read the message yet.
	StatusSent DeliveryStatus = "sent"
	// StatusReadSome means at least one, but not all, other participants
	// have read the message.
	StatusReadSome DeliveryStatus = "readSome"
	// StatusReadAll means every other participant has read the message.
	StatusReadAll DeliveryStatus = "readAll"
)

// idAtOrAfter reports whether message id a is at or after b in room order.
// Message ids are time-sortable, so lexicographic comparison matches
// chronological comparison. Ids of unequal length are still compared as
// strings; the backend guarantees fixed-width ids.
func idAtOrAfter(a, b string) bool {
	return a >= b
}

// Status derives the delivery status of m as seen by currentUserID. The
// result is meaningful only for the user's own messages; for everything
// else it is StatusSent.
//
// A participant counts as having read m when their cursor is at or after
// m's id. Rooms whose only participant is the author report StatusSent,
// since there is nobody to read the message.
func Status(m Message, r Room, currentUserID string) DeliveryStatus {
	if m.AuthorID != currentUserID {
		return StatusSent
	}
	others := 0
	read := 0
	for _, p := range r.Participants {
		if p.UserID == m.AuthorID {
			continue
		}
		others++
		if p.LastReadMessageID != "" && idAtOrAfter(p.LastReadMessageID, m.ID) {
			read++
		}
	}
	if others == 0 || read == 0 {
		return StatusSent
	}
	if read < others {
		return StatusReadSome
	}
	return StatusReadAll
}
