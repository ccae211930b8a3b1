// Package syncevent defines the closed set of sync events the core fans out over the event bus, and the
// pure scope-tagging function the authorization filter uses to decide who may receive each one.
package syncevent

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Kind identifies one of the closed event variants.
type Kind string

const (
	KindRoomCreate         Kind = "room_create"
	KindRoomUpdate         Kind = "room_update"
	KindThreadCreate       Kind = "thread_create"
	KindThreadUpdate       Kind = "thread_update"
	KindMessageCreate      Kind = "message_create"
	KindMessageUpdate      Kind = "message_update"
	KindMessageDelete      Kind = "message_delete"
	KindMessageDeleteBulk  Kind = "message_delete_bulk"
	KindMessageVersionDel  Kind = "message_version_delete"
	KindUserCreate         Kind = "user_create"
	KindUserUpdate         Kind = "user_update"
	KindUserDelete         Kind = "user_delete"
	KindUserConfig         Kind = "user_config"
	KindRoomMemberUpsert   Kind = "room_member_upsert"
	KindThreadMemberUpsert Kind = "thread_member_upsert"
	KindSessionCreate      Kind = "session_create"
	KindSessionUpdate      Kind = "session_update"
	KindSessionDelete      Kind = "session_delete"
	KindRoleCreate         Kind = "role_create"
	KindRoleUpdate         Kind = "role_update"
	KindRoleDelete         Kind = "role_delete"
	KindInviteCreate       Kind = "invite_create"
	KindInviteUpdate       Kind = "invite_update"
	KindInviteDelete       Kind = "invite_delete"
	KindThreadTyping       Kind = "thread_typing"
	KindThreadAck          Kind = "thread_ack"
	KindRelationshipUpsert Kind = "relationship_upsert"
	KindRelationshipDelete Kind = "relationship_delete"
	KindReactionCreate     Kind = "reaction_create"
	KindReactionDelete     Kind = "reaction_delete"
	KindReactionPurge      Kind = "reaction_purge"
	KindVoiceDispatch      Kind = "voice_dispatch"
	KindVoiceState         Kind = "voice_state"
	KindEmojiCreate        Kind = "emoji_create"
	KindEmojiDelete        Kind = "emoji_delete"
)

// InviteTargetKind distinguishes which entity an invite resolves to, since InviteCreate/Update/Delete
// inherit the scope of their target rather than carrying a fixed one.
type InviteTargetKind string

const (
	InviteTargetRoom   InviteTargetKind = "room"
	InviteTargetThread InviteTargetKind = "thread"
	InviteTargetServer InviteTargetKind = "server"
)

// Event is the tagged union dispatched on the bus. Exactly one of the optional id fields is meaningful
// per Kind; Data carries the JSON payload clients receive, already shaped for wire transmission (the
// facade substitutes a recipient-scoped copy of Data during enrichment).
type Event struct {
	Kind Kind            `json:"type"`
	Data json.RawMessage `json:"data"`

	RoomID   uuid.UUID `json:"-"`
	ThreadID uuid.UUID `json:"-"`

	// TargetUserID is the "other side" of member/relationship/user events: the affected member for
	// RoomMemberUpsert/ThreadMemberUpsert, the relationship counterpart, the deleted session's owner, etc.
	TargetUserID uuid.UUID `json:"-"`

	// SessionID/SessionUserID identify the session a Session{Create,Update,Delete} event concerns, and
	// whose bound user (if any) it belongs to. Authorization for these kinds is recipient-specific (it
	// depends on which session the receiving connection itself is bound to), so the scope tagger takes the
	// recipient's own session id as an argument rather than trusting a value baked onto the event at
	// publish time — see authz.TagScope.
	SessionID     uuid.UUID `json:"-"`
	SessionUserID uuid.UUID `json:"-"`

	// InviteTarget/InviteTargetID say which entity an Invite* event's scope inherits from.
	InviteTarget   InviteTargetKind `json:"-"`
	InviteTargetID uuid.UUID        `json:"-"`

	// AuditLoggable marks event classes that must be durably appended before broadcast (§6).
	AuditLoggable bool `json:"-"`

	// Audit carries the fields needed to write the audit log row, populated only when AuditLoggable.
	Audit *AuditFields `json:"-"`
}

// AuditFields holds the data an audit-loggable event needs recorded before it is broadcast.
type AuditFields struct {
	UserID      uuid.UUID
	Reason      string
	Payload     json.RawMessage
	PayloadPrev json.RawMessage
}

var auditLoggableKinds = map[Kind]bool{
	KindRoomUpdate:       true,
	KindThreadUpdate:     true,
	KindMessageDelete:    true,
	KindMessageDeleteBulk: true,
	KindRoomMemberUpsert: true,
	KindRoleCreate:       true,
	KindRoleUpdate:       true,
	KindRoleDelete:       true,
	KindInviteDelete:     true,
}

// IsAuditLoggable reports whether events of this kind must be durably logged before broadcast.
func IsAuditLoggable(k Kind) bool {
	return auditLoggableKinds[k]
}
