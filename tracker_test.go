package wavelet_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	wavelet "github.com/wavelet-im/wavelet-go"
)

// trackerFixture wires a tracker against a fake backend with a signed-in
// user and counts room upserts.
type trackerFixture struct {
	client  *wavelet.Client
	tracker *wavelet.Tracker
	upserts atomic.Int32
	rooms   atomic.Value // JSON served by GET /rest/v1/rooms
}

func newTrackerFixture(t *testing.T, name string) *trackerFixture {
	t.Helper()
	f := &trackerFixture{}
	f.rooms.Store(`[]`)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tokenResponse("at-1", "rt-1", name)))
	})
	mux.HandleFunc("/rest/v1/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			f.upserts.Add(1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.Write([]byte(f.rooms.Load().(string)))
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "u-1", "email": "alice@example.com", "user_metadata": {"display_name": "neo"}}`))
	})

	// The CLI signs in (or restores a session) before it builds a tracker,
	// so the fixture does the same.
	f.client = newTestClient(t, mux)
	if _, err := f.client.Auth().SignIn(context.Background(), "alice@example.com", "hunter2"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	f.tracker = wavelet.NewTracker(f.client)
	return f
}

func TestTrackerAdoptsExistingSession(t *testing.T) {
	f := newTrackerFixture(t, "alice")

	// The fixture signed in before the tracker existed; the session must be
	// picked up anyway.
	if got := f.tracker.Self().DisplayName; got != "alice" {
		t.Fatalf("identity from pre-existing session: got %q", got)
	}
	room, err := f.tracker.OpenPairwise("bob")
	if err != nil {
		t.Fatalf("open pairwise with adopted session: %v", err)
	}
	if room.ID != "alice::bob" {
		t.Fatalf("room ID: got %q", room.ID)
	}
}

func TestTrackerFollowsLaterSignIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tokenResponse("at-1", "rt-1", "alice")))
	})
	client := newTestClient(t, mux)

	tracker := wavelet.NewTracker(client)
	if tracker.Session() != nil {
		t.Fatal("fresh client should have no session")
	}

	if _, err := client.Auth().SignIn(context.Background(), "alice@example.com", "hunter2"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := tracker.Self().DisplayName; got != "alice" {
		t.Fatalf("identity after later sign-in: got %q", got)
	}
}

func TestSeedRoomsDefaultsToGeneral(t *testing.T) {
	f := newTrackerFixture(t, "alice")

	if err := f.tracker.SeedRooms(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rooms := f.tracker.Rooms()
	if len(rooms) != 1 || rooms[0].ID != wavelet.DefaultRoomID {
		t.Fatalf("rooms: %+v", rooms)
	}
}

func TestSeedRoomsDeduplicates(t *testing.T) {
	f := newTrackerFixture(t, "alice")
	f.rooms.Store(`[{"name": "general"}, {"name": "dev"}]`)

	for i := 0; i < 2; i++ {
		if err := f.tracker.SeedRooms(context.Background()); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if n := len(f.tracker.Rooms()); n != 2 {
		t.Fatalf("rooms after repeated seed: %d", n)
	}
}

func TestCreateGroup(t *testing.T) {
	f := newTrackerFixture(t, "alice")

	room, err := f.tracker.CreateGroup(context.Background(), "  Dev  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID != "dev" || room.Kind != wavelet.RoomGroup {
		t.Fatalf("room: %+v", room)
	}
	if f.upserts.Load() != 1 {
		t.Fatalf("upserts: %d", f.upserts.Load())
	}

	// An invalid name never leaves the process.
	_, err = f.tracker.CreateGroup(context.Background(), "a::b")
	var invalid *wavelet.InvalidNameError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidNameError, got %v", err)
	}
	if f.upserts.Load() != 1 {
		t.Fatal("invalid name reached the backend")
	}
}

func TestOpenPairwiseIsLazy(t *testing.T) {
	f := newTrackerFixture(t, "alice")

	room, err := f.tracker.OpenPairwise("bob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if room.ID != "alice::bob" {
		t.Fatalf("room ID: got %q", room.ID)
	}
	if f.upserts.Load() != 0 {
		t.Fatal("opening a chat must not write a room row")
	}

	if err := f.tracker.RegisterFirstSend(context.Background(), room.ID); err != nil {
		t.Fatalf("register: %v", err)
	}
	if f.upserts.Load() != 1 {
		t.Fatalf("upserts after first send: %d", f.upserts.Load())
	}
	if n := len(f.tracker.Rooms()); n != 1 {
		t.Fatalf("rooms: %d", n)
	}
}

func TestRenameFlowsIntoIdentity(t *testing.T) {
	f := newTrackerFixture(t, "alice")

	if got := f.tracker.Self().DisplayName; got != "alice" {
		t.Fatalf("initial identity: %q", got)
	}
	if err := f.tracker.UpdateDisplayName(context.Background(), "neo"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	// The tracker is a live SelfIdentity: the next send picks up the new name.
	if got := f.tracker.Self().DisplayName; got != "neo" {
		t.Fatalf("identity after rename: %q", got)
	}
}

func TestSignOutClearsTracker(t *testing.T) {
	f := newTrackerFixture(t, "alice")
	if _, err := f.tracker.OpenPairwise("bob"); err != nil {
		t.Fatalf("open: %v", err)
	}

	// The logout endpoint is not registered; local state clears regardless.
	_ = f.client.Auth().SignOut(context.Background())

	if f.tracker.Session() != nil {
		t.Fatal("session survived sign-out")
	}
	if n := len(f.tracker.Rooms()); n != 0 {
		t.Fatalf("rooms survived sign-out: %d", n)
	}
	if (f.tracker.Self() != wavelet.User{}) {
		t.Fatal("identity survived sign-out")
	}
}
