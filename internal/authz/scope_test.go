package authz

import (
	"testing"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

func TestTagScopeRoomAndThreadKinds(t *testing.T) {
	t.Parallel()

	roomID, threadID := uuid.New(), uuid.New()

	tests := []struct {
		name string
		kind syncevent.Kind
		want Scope
	}{
		{"room_create", syncevent.KindRoomCreate, Scope{Kind: ScopeRoom, RoomID: roomID}},
		{"role_update", syncevent.KindRoleUpdate, Scope{Kind: ScopeRoom, RoomID: roomID}},
		{"thread_update", syncevent.KindThreadUpdate, Scope{Kind: ScopeThread, ThreadID: threadID}},
		{"message_create", syncevent.KindMessageCreate, Scope{Kind: ScopeThread, ThreadID: threadID}},
		{"reaction_purge", syncevent.KindReactionPurge, Scope{Kind: ScopeThread, ThreadID: threadID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := syncevent.Event{Kind: tt.kind, RoomID: roomID, ThreadID: threadID}
			got := TagScope(e, uuid.Nil)
			if got != tt.want {
				t.Errorf("TagScope(%s) = %+v, want %+v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestTagScopeEmojiSplitsOnOwner(t *testing.T) {
	t.Parallel()

	roomID, userID := uuid.New(), uuid.New()

	roomOwned := TagScope(syncevent.Event{Kind: syncevent.KindEmojiCreate, RoomID: roomID}, uuid.Nil)
	if roomOwned != (Scope{Kind: ScopeRoom, RoomID: roomID}) {
		t.Errorf("room-owned emoji scope = %+v, want ScopeRoom", roomOwned)
	}

	userOwned := TagScope(syncevent.Event{Kind: syncevent.KindEmojiDelete, TargetUserID: userID}, uuid.Nil)
	if userOwned != (Scope{Kind: ScopeUser, UserID: userID}) {
		t.Errorf("user-owned emoji scope = %+v, want ScopeUser", userOwned)
	}
}

func TestTagScopeMemberUpsertKinds(t *testing.T) {
	t.Parallel()

	roomID, threadID, userID := uuid.New(), uuid.New(), uuid.New()

	room := TagScope(syncevent.Event{Kind: syncevent.KindRoomMemberUpsert, RoomID: roomID, TargetUserID: userID}, uuid.Nil)
	if room != (Scope{Kind: ScopeRoomOrUser, RoomID: roomID, UserID: userID}) {
		t.Errorf("RoomMemberUpsert scope = %+v", room)
	}

	thr := TagScope(syncevent.Event{Kind: syncevent.KindThreadMemberUpsert, ThreadID: threadID, TargetUserID: userID}, uuid.Nil)
	if thr != (Scope{Kind: ScopeThreadOrUser, ThreadID: threadID, UserID: userID}) {
		t.Errorf("ThreadMemberUpsert scope = %+v", thr)
	}
}

func TestTagScopeUserMutualKinds(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	for _, kind := range []syncevent.Kind{syncevent.KindUserCreate, syncevent.KindUserUpdate, syncevent.KindUserDelete} {
		got := TagScope(syncevent.Event{Kind: kind, TargetUserID: userID}, uuid.Nil)
		if got != (Scope{Kind: ScopeUserMutual, UserID: userID}) {
			t.Errorf("TagScope(%s) = %+v, want ScopeUserMutual", kind, got)
		}
	}
}

func TestTagScopeInviteInheritsTarget(t *testing.T) {
	t.Parallel()

	roomID, threadID := uuid.New(), uuid.New()

	room := TagScope(syncevent.Event{
		Kind: syncevent.KindInviteCreate, InviteTarget: syncevent.InviteTargetRoom, InviteTargetID: roomID,
	}, uuid.Nil)
	if room != (Scope{Kind: ScopeRoom, RoomID: roomID}) {
		t.Errorf("room-targeted invite scope = %+v", room)
	}

	thr := TagScope(syncevent.Event{
		Kind: syncevent.KindInviteUpdate, InviteTarget: syncevent.InviteTargetThread, InviteTargetID: threadID,
	}, uuid.Nil)
	if thr != (Scope{Kind: ScopeThread, ThreadID: threadID}) {
		t.Errorf("thread-targeted invite scope = %+v", thr)
	}

	server := TagScope(syncevent.Event{Kind: syncevent.KindInviteDelete, InviteTarget: syncevent.InviteTargetServer}, uuid.Nil)
	if server != (Scope{Kind: ScopeCustom, Custom: false}) {
		t.Errorf("server-targeted invite scope = %+v, want deny-all Custom", server)
	}
}

func TestTagScopeVoiceKindsPreferThreadOverUser(t *testing.T) {
	t.Parallel()

	threadID, userID := uuid.New(), uuid.New()

	withThread := TagScope(syncevent.Event{Kind: syncevent.KindVoiceDispatch, ThreadID: threadID, TargetUserID: userID}, uuid.Nil)
	if withThread != (Scope{Kind: ScopeThread, ThreadID: threadID}) {
		t.Errorf("VoiceDispatch with ThreadID = %+v, want ScopeThread", withThread)
	}

	withoutThread := TagScope(syncevent.Event{Kind: syncevent.KindVoiceState, TargetUserID: userID}, uuid.Nil)
	if withoutThread != (Scope{Kind: ScopeUser, UserID: userID}) {
		t.Errorf("VoiceState without ThreadID = %+v, want ScopeUser", withoutThread)
	}
}

func TestTagScopeUnknownKindDeniesAll(t *testing.T) {
	t.Parallel()

	got := TagScope(syncevent.Event{Kind: syncevent.Kind("nonsense")}, uuid.Nil)
	if got != (Scope{Kind: ScopeCustom, Custom: false}) {
		t.Errorf("unknown kind scope = %+v, want deny-all Custom", got)
	}
}

// TestTagScopeSessionDeleteIsPerRecipient is a regression test for the bug where a precomputed
// Event.SessionSelf flag, baked on once at publish time, made a Custom{true} verdict true for every
// authenticated connection in the process instead of only the one whose own session was deleted.
func TestTagScopeSessionDeleteIsPerRecipient(t *testing.T) {
	t.Parallel()

	deletedSessionID, ownerID, otherSessionID := uuid.New(), uuid.New(), uuid.New()
	e := syncevent.Event{Kind: syncevent.KindSessionDelete, SessionID: deletedSessionID, SessionUserID: ownerID}

	owning := TagScope(e, deletedSessionID)
	if owning != (Scope{Kind: ScopeCustom, Custom: true}) {
		t.Errorf("own session deleted: scope = %+v, want Custom{true}", owning)
	}

	sameUserOtherSession := TagScope(e, otherSessionID)
	if sameUserOtherSession != (Scope{Kind: ScopeUser, UserID: ownerID}) {
		t.Errorf("same user, different session: scope = %+v, want ScopeUser{%s}", sameUserOtherSession, ownerID)
	}

	unrelated := TagScope(e, uuid.New())
	if unrelated.Kind != ScopeUser || unrelated.UserID != ownerID {
		t.Errorf("unrelated connection: scope = %+v, want ScopeUser{%s} (still owner-gated, not Custom{true})", unrelated, ownerID)
	}
}

func TestTagScopeSessionDeleteWithNoOwnerDeniesAll(t *testing.T) {
	t.Parallel()

	got := TagScope(syncevent.Event{Kind: syncevent.KindSessionDelete}, uuid.New())
	if got != (Scope{Kind: ScopeCustom, Custom: false}) {
		t.Errorf("ownerless SessionDelete scope = %+v, want deny-all Custom", got)
	}
}

// TestTagScopeSessionCreateUpdateIsPerRecipient mirrors the SessionDelete regression test for the
// self-patch side of the same bug: the upserted session's own connection must see it regardless of user
// match, but every other connection — including other connections of the same user — only sees it via the
// ordinary ScopeUser rule.
func TestTagScopeSessionCreateUpdateIsPerRecipient(t *testing.T) {
	t.Parallel()

	upsertedSessionID, ownerID := uuid.New(), uuid.New()

	for _, kind := range []syncevent.Kind{syncevent.KindSessionCreate, syncevent.KindSessionUpdate} {
		e := syncevent.Event{Kind: kind, SessionID: upsertedSessionID, SessionUserID: ownerID}

		owning := TagScope(e, upsertedSessionID)
		if owning != (Scope{Kind: ScopeCustom, Custom: true}) {
			t.Errorf("%s: own session scope = %+v, want Custom{true}", kind, owning)
		}

		other := TagScope(e, uuid.New())
		if other != (Scope{Kind: ScopeUser, UserID: ownerID}) {
			t.Errorf("%s: other connection scope = %+v, want ScopeUser{%s}", kind, other, ownerID)
		}
	}
}
