package wavelet

import "time"

// RoomView is the renderable projection of a room: a title plus ordered
// entries. Building it is a pure function of synchronizer and session
// state; it mutates nothing and triggers nothing.
type RoomView struct {
	Title   string
	Entries []ViewEntry
}

// ViewEntry is one message prepared for display.
type ViewEntry struct {
	ID        MessageID
	Author    string
	Body      string
	AvatarURL string
	SentAt    string
	IsMine    bool
	Pending   bool
}

// Project maps messages plus the viewer's identity into a RoomView. The
// IsMine flag prefers the stable user ID and falls back to display-name
// equality for legacy rows that carry no author ID.
func Project(messages []Message, self User, roomID string) RoomView {
	view := RoomView{
		Title:   RoomLabel(Room{ID: roomID, Kind: KindOfRoomID(roomID)}, self.DisplayName),
		Entries: make([]ViewEntry, 0, len(messages)),
	}
	for _, m := range messages {
		view.Entries = append(view.Entries, ViewEntry{
			ID:        m.ID,
			Author:    m.Author,
			Body:      m.Body,
			AvatarURL: m.AvatarURL,
			SentAt:    m.CreatedAt.Local().Format(time.Kitchen),
			IsMine:    isSameAuthor(m, self),
			Pending:   m.ID.IsLocal(),
		})
	}
	return view
}
