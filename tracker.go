package wavelet

import (
	"context"
	"sync"
)

// DefaultRoomID is the room every fresh account lands in when the backend
// has no rooms yet.
const DefaultRoomID = "general"

// Tracker holds the current user identity, the set of known rooms (joined
// groups plus derived pairwise rooms, deduplicated by ID), and the profile
// operations. It reacts to Authenticator session events; it never drives them.
//
// Tracker implements SelfIdentity, so a synchronizer wired with
// WithIdentity(tracker) stamps the post-rename display name onto messages
// sent after a profile update — history keeps its old labels.
type Tracker struct {
	store Gateway
	auth  *AuthClient
	blobs *BlobClient

	mu       sync.Mutex
	session  *Session
	sawEvent bool
	rooms    []Room
	known    map[string]struct{}
}

// NewTracker builds a tracker over the client's gateway, auth, and blob
// sub-clients and subscribes to session changes. A session established
// before construction (the CLI restores one first) is adopted, unless a
// change event lands first — events are always newer.
func NewTracker(client *Client) *Tracker {
	t := &Tracker{
		store: client.Store(),
		auth:  client.Auth(),
		blobs: client.Blobs(),
		known: make(map[string]struct{}),
	}
	current := client.Auth().watch(t.onSession)
	t.mu.Lock()
	if !t.sawEvent {
		t.session = current
	}
	t.mu.Unlock()
	return t
}

func (t *Tracker) onSession(s *Session) {
	t.mu.Lock()
	t.sawEvent = true
	t.session = s
	if s == nil {
		t.rooms = nil
		t.known = make(map[string]struct{})
	}
	t.mu.Unlock()
}

// Session returns the live session, or nil when signed out.
func (t *Tracker) Session() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Self returns the current user identity; zero value when signed out.
func (t *Tracker) Self() User {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return User{}
	}
	return t.session.User
}

// Rooms returns the known rooms in the order they became known.
func (t *Tracker) Rooms() []Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Room, len(t.rooms))
	copy(out, t.rooms)
	return out
}

// addRoom records a room, deduplicating by exact ID. Reports whether the
// room was new.
func (t *Tracker) addRoom(room Room) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.known[room.ID]; ok {
		return false
	}
	t.known[room.ID] = struct{}{}
	t.rooms = append(t.rooms, room)
	return true
}

// SeedRooms loads the room listing from the data store. An empty backend
// yields the default room so a fresh account always has somewhere to talk.
func (t *Tracker) SeedRooms(ctx context.Context) error {
	rooms, err := t.store.ListRooms(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		rooms = []Room{{ID: DefaultRoomID, Kind: RoomGroup}}
	}
	for _, r := range rooms {
		t.addRoom(r)
	}
	return nil
}

// CreateGroup normalizes the name, persists the room idempotently (a room
// that already exists is success, not error), and adds it to the known set.
func (t *Tracker) CreateGroup(ctx context.Context, rawName string) (Room, error) {
	id, err := ResolveGroupRoomID(rawName)
	if err != nil {
		return Room{}, err
	}
	if err := t.store.UpsertRoom(ctx, id, t.Self().ID); err != nil {
		return Room{}, err
	}
	room := Room{ID: id, Kind: RoomGroup}
	t.addRoom(room)
	return room, nil
}

// OpenPairwise derives the one-to-one room with the other identity and adds
// it locally. The room row itself is persisted lazily, on the first message
// (RegisterFirstSend), so opening a chat costs no round trip.
func (t *Tracker) OpenPairwise(otherIdentity string) (Room, error) {
	self := t.Self().DisplayName
	id, err := ResolvePairwiseRoomID(self, otherIdentity)
	if err != nil {
		return Room{}, err
	}
	room := Room{ID: id, Kind: RoomPairwise}
	t.addRoom(room)
	return room, nil
}

// RegisterFirstSend makes sure a room row exists before the first message
// lands in it. Idempotent; the common "already exists" case is free.
func (t *Tracker) RegisterFirstSend(ctx context.Context, roomID string) error {
	t.addRoom(Room{ID: roomID, Kind: KindOfRoomID(roomID)})
	return t.store.UpsertRoom(ctx, roomID, t.Self().ID)
}

// UpdateDisplayName round-trips the new name through the Authenticator.
// Subsequent sends carry the new name; old messages are never relabeled.
func (t *Tracker) UpdateDisplayName(ctx context.Context, name string) error {
	_, err := t.auth.UpdateProfile(ctx, ProfileUpdate{DisplayName: &name})
	return err
}

// UpdateAvatar uploads the image to the blob store and points the profile
// at the resulting public URL.
func (t *Tracker) UpdateAvatar(ctx context.Context, data []byte, contentType string) (string, error) {
	self := t.Self()
	if self.ID == "" {
		return "", &AuthError{Status: 401, Message: "not signed in"}
	}
	url, err := t.blobs.UploadAvatar(ctx, self.ID, data, contentType)
	if err != nil {
		return "", err
	}
	if _, err := t.auth.UpdateProfile(ctx, ProfileUpdate{AvatarURL: &url}); err != nil {
		return "", err
	}
	return url, nil
}
