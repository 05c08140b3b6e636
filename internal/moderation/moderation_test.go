package moderation

import (
	"errors"
	"testing"

	"framedata/api/internal/auth"
)

func TestParseStatus(t *testing.T) {
	for _, value := range []string{"pending", "approved", "rejected", "cancelled"} {
		if got, err := ParseStatus(value); err != nil || string(got) != value {
			t.Fatalf("ParseStatus(%q) = %q, %v", value, got, err)
		}
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ParseStatus(archived) error = %v, want ErrInvalidStatus", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		allow    bool
	}{
		{from: StatusPending, to: StatusApproved, allow: true},
		{from: StatusPending, to: StatusRejected, allow: true},
		{from: StatusPending, to: StatusCancelled, allow: true},
		{from: StatusPending, to: StatusPending, allow: false},
		{from: StatusApproved, to: StatusRejected, allow: false},
		{from: StatusRejected, to: StatusApproved, allow: false},
		{from: StatusCancelled, to: StatusCancelled, allow: false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.allow {
				t.Fatalf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.allow)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	moderator := auth.Identity{UserID: "mod-1", DisplayName: "Mod", Privileged: true}
	author := auth.Identity{UserID: "user-1", DisplayName: "Avery"}
	stranger := auth.Identity{UserID: "user-2", DisplayName: "Blake"}

	cases := []struct {
		name    string
		actor   auth.Identity
		to      Status
		wantErr error
	}{
		{name: "moderator approves", actor: moderator, to: StatusApproved},
		{name: "moderator rejects", actor: moderator, to: StatusRejected},
		{name: "author cannot approve own", actor: author, to: StatusApproved, wantErr: ErrNotPermitted},
		{name: "author cancels", actor: author, to: StatusCancelled},
		{name: "stranger cannot cancel", actor: stranger, to: StatusCancelled, wantErr: ErrNotPermitted},
		{name: "moderator cannot cancel for author", actor: moderator, to: StatusCancelled, wantErr: ErrNotPermitted},
		{name: "pending is not a closing status", actor: moderator, to: StatusPending, wantErr: ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.actor, "user-1", tc.to)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Authorize() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Authorize() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
