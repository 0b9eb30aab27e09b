// Package chatsync implements the real-time chat synchronization core of the
// CRM client: one managed socket connection, per-room message caches with
// optimistic sends, read-receipt derivation, typing presence, and
// search-and-jump navigation.
//
// The core is seeded from the REST snapshot (see Client) and then evolves
// incrementally from socket events. Message ids are required to be
// time-sortable (ULID/Snowflake style): lexicographic comparison of two ids
// must agree with their creation order. Several subsystems (read cursors,
// receipt status) rely on that contract.
//
// Example:
//
//	sess, err := chatsync.NewSession(chatsync.SessionConfig{
//		BaseURL: "https://crm.example.com",
//		UserID:  "u-17",
//	})
//	if err != nil { ... }
//	if err := sess.Start(ctx, token); err != nil { ... }
//	if err := sess.OpenRoom(ctx, "room-42", 50); err != nil { ... }
//	msg, err := sess.SendText(ctx, "room-42", "hello", nil)
package chatsync

import "time"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error returned by the CRM backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// RoomType distinguishes direct conversations from group rooms.
type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

// Participant is a member of a room. LastReadMessageID is the participant's
// read cursor: the id of the newest message the participant has acknowledged.
// The cursor only moves forward in id order; events carrying an older id are
// ignored (see Store.ApplyRead).
type Participant struct {
	UserID            string    `json:"userId"`
	Role              string    `json:"role"`
	LastReadMessageID string    `json:"lastReadMessageId,omitempty"`
	LastReadAt        time.Time `json:"lastReadAt,omitempty"`
}

// Room is a chat conversation container. Rooms are created from the REST
// snapshot or from the first inbound event referencing an unknown id, and are
// never deleted client-side.
type Room struct {
	ID                 string        `json:"id"`
	Type               RoomType      `json:"type"`
	Title              string        `json:"title,omitempty"`
	Participants       []Participant `json:"participants"`
	LastMessagePreview string        `json:"lastMessagePreview,omitempty"`
	LastMessageAt      time.Time     `json:"lastMessageAt,omitempty"`
}

// Attachment is a file attached to a message. Storage and signed-URL issuance
// are handled by the backend; the core only carries the metadata.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a single chat entry. Identity is ID: a room's list never holds
// two messages with the same id. Deletion is a tombstone (DeletedAt set);
// physical removal only happens through the bulk system-delete event.
type Message struct {
	ID               string       `json:"id"`
	RoomID           string       `json:"roomId"`
	AuthorID         string       `json:"authorId"`
	Text             string       `json:"text"`
	CreatedAt        time.Time    `json:"createdAt"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	ReplyToMessageID string       `json:"replyToMessageId,omitempty"`
	ForwardFrom      string       `json:"forwardFrom,omitempty"`
	IsPinned         bool         `json:"isPinned,omitempty"`
	DeletedAt        *time.Time   `json:"deletedAt,omitempty"`
}

// Deleted reports whether the message is tombstoned.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// messageLess orders messages for display: by creation time, then by id so
// the order stays total when timestamps collide.
func messageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
