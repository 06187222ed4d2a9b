package wavelet_test

import (
	"testing"
	"time"

	wavelet "github.com/wavelet-im/wavelet-go"
)

func TestProject(t *testing.T) {
	self := wavelet.User{ID: "u-alice", DisplayName: "alice"}
	sent := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)

	messages := []wavelet.Message{
		{ID: 1, RoomID: "alice::bob", Author: "bob", AuthorID: "u-bob", Body: "hey", CreatedAt: sent},
		{ID: 2, RoomID: "alice::bob", Author: "alice", AuthorID: "u-alice", Body: "hi", CreatedAt: sent.Add(time.Minute)},
		{ID: 3, RoomID: "alice::bob", Author: "alice", Body: "legacy row", CreatedAt: sent.Add(2 * time.Minute)},
		{ID: -1, RoomID: "alice::bob", Author: "alice", AuthorID: "u-alice", Body: "sending...", CreatedAt: sent.Add(3 * time.Minute)},
	}

	view := wavelet.Project(messages, self, "alice::bob")

	if view.Title != "bob" {
		t.Fatalf("pairwise title: got %q, want %q", view.Title, "bob")
	}
	if len(view.Entries) != len(messages) {
		t.Fatalf("entries: got %d, want %d", len(view.Entries), len(messages))
	}

	if view.Entries[0].IsMine {
		t.Fatal("foreign message marked as mine")
	}
	if !view.Entries[1].IsMine {
		t.Fatal("own message (by ID) not marked as mine")
	}
	if !view.Entries[2].IsMine {
		t.Fatal("legacy row without author ID should fall back to display name")
	}
	if !view.Entries[3].Pending {
		t.Fatal("unconfirmed local message should be pending")
	}
	if view.Entries[0].Pending {
		t.Fatal("confirmed message must not be pending")
	}

	wantStamp := sent.Local().Format(time.Kitchen)
	if view.Entries[0].SentAt != wantStamp {
		t.Fatalf("timestamp: got %q, want %q", view.Entries[0].SentAt, wantStamp)
	}
}

func TestProjectGroupTitle(t *testing.T) {
	view := wavelet.Project(nil, wavelet.User{DisplayName: "alice"}, "general")
	if view.Title != "# general" {
		t.Fatalf("group title: got %q", view.Title)
	}
	if len(view.Entries) != 0 {
		t.Fatalf("empty room projected %d entries", len(view.Entries))
	}
}
