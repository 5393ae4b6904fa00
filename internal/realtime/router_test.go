package realtime

import (
	"reflect"
	"slices"
	"testing"

	"membersonly-live/internal/auth"
	"membersonly-live/internal/events"
	"membersonly-live/internal/querycache"
)

func TestPlanDecisionTable(t *testing.T) {
	self := auth.User{ID: "7", Username: "bob", Role: auth.RoleMember}
	admin := auth.User{ID: "1", Username: "root", Role: auth.RoleAdmin}
	base := auth.User{ID: "9", Username: "newbie", Role: auth.RoleUser}

	all := []querycache.Category{querycache.Messages, querycache.Users, querycache.Bookmarks}

	tests := []struct {
		name   string
		event  events.Event
		viewer auth.User
		want   Decision
	}{
		{
			name: "role change for self refreshes and notifies",
			event: events.MultiPurpose{
				Reason: events.ReasonRoleChange, TargetID: "7",
				TargetUserRole: "ADMIN", OriginUsername: "alice",
			},
			viewer: self,
			want: Decision{
				Invalidate:     all,
				RefreshSession: true,
				Notify:         "Your role has been changed to ADMIN by @alice",
			},
		},
		{
			name:   "role change for self without role or actor",
			event:  events.MultiPurpose{Reason: events.ReasonRoleChange, TargetID: "7"},
			viewer: self,
			want: Decision{
				Invalidate:     all,
				RefreshSession: true,
				Notify:         "Your role has been changed",
			},
		},
		{
			name:   "role change for someone else",
			event:  events.MultiPurpose{Reason: events.ReasonRoleChange, TargetID: "8", TargetUserRole: "ADMIN"},
			viewer: self,
			want:   Decision{Invalidate: all},
		},
		{
			name:   "deleted by admin for self ends the session",
			event:  events.MultiPurpose{Reason: events.ReasonDeletedByAdmin, TargetID: "7"},
			viewer: self,
			want:   Decision{EndSession: true, RedirectPath: "/", RedirectReason: RedirectReasonDeletedByAdmin},
		},
		{
			name:   "deleted by admin for someone else",
			event:  events.MultiPurpose{Reason: events.ReasonDeletedByAdmin, TargetID: "8"},
			viewer: self,
			want:   Decision{Invalidate: all},
		},
		{
			name:   "default multi purpose targeting self",
			event:  events.MultiPurpose{Reason: events.ReasonDefault, TargetID: "7"},
			viewer: self,
			want:   Decision{Invalidate: all},
		},
		{
			name:   "default multi purpose without target",
			event:  events.MultiPurpose{Reason: events.ReasonDefault},
			viewer: base,
			want:   Decision{Invalidate: all},
		},
		{
			name:   "missing target never matches a signed-out viewer",
			event:  events.MultiPurpose{Reason: events.ReasonDeletedByAdmin},
			viewer: auth.User{},
			want:   Decision{Invalidate: all},
		},
		{
			name:   "user list for admin",
			event:  events.UserList{},
			viewer: admin,
			want:   Decision{Invalidate: []querycache.Category{querycache.Users}},
		},
		{
			name:   "user list for member",
			event:  events.UserList{},
			viewer: self,
			want:   Decision{},
		},
		{
			name:   "user list for base role",
			event:  events.UserList{},
			viewer: base,
			want:   Decision{},
		},
		{
			name:   "message created",
			event:  events.Message{Reason: events.ReasonMessageCreated},
			viewer: self,
			want:   Decision{Invalidate: []querycache.Category{querycache.Messages}},
		},
		{
			name:   "message updated for member",
			event:  events.Message{Reason: events.ReasonMessageUpdated},
			viewer: self,
			want:   Decision{Invalidate: []querycache.Category{querycache.Messages, querycache.Bookmarks}},
		},
		{
			name:   "message liked for admin",
			event:  events.Message{Reason: events.ReasonMessageLiked},
			viewer: admin,
			want:   Decision{Invalidate: []querycache.Category{querycache.Messages, querycache.Bookmarks}},
		},
		{
			name:   "unlisted message reason counts as other mutation",
			event:  events.Message{Reason: "messagePinned"},
			viewer: self,
			want:   Decision{Invalidate: []querycache.Category{querycache.Messages, querycache.Bookmarks}},
		},
		{
			name:   "message deleted for base role",
			event:  events.Message{Reason: events.ReasonMessageDeleted},
			viewer: base,
			want:   Decision{Invalidate: []querycache.Category{querycache.Messages}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.event, tt.viewer)
			if !sameCategories(got.Invalidate, tt.want.Invalidate) {
				t.Fatalf("Plan().Invalidate = %v, want %v", got.Invalidate, tt.want.Invalidate)
			}
			got.Invalidate, tt.want.Invalidate = nil, nil
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Plan() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func sameCategories(a, b []querycache.Category) bool {
	a = slices.Clone(a)
	b = slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func TestRoleChangeMessageOmitsMissingParts(t *testing.T) {
	tests := []struct {
		role   string
		origin string
		want   string
	}{
		{role: "MEMBER", origin: "alice", want: "Your role has been changed to MEMBER by @alice"},
		{role: "MEMBER", want: "Your role has been changed to MEMBER"},
		{origin: "alice", want: "Your role has been changed by @alice"},
		{want: "Your role has been changed"},
	}
	for _, tt := range tests {
		if got := RoleChangeMessage(tt.role, tt.origin); got != tt.want {
			t.Fatalf("RoleChangeMessage(%q, %q) = %q, want %q", tt.role, tt.origin, got, tt.want)
		}
	}
}
