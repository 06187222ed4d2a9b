package wavelet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval matches the refetch cadence the backend dashboard
// recommends for chat views.
const DefaultPollInterval = 3 * time.Second

// SyncState is the synchronizer lifecycle state.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
)

// SelfIdentity supplies the sender identity stamped onto outgoing messages
// and compared against incoming authors for notification decisions.
type SelfIdentity interface {
	Self() User
}

type staticIdentity struct{ user User }

func (s staticIdentity) Self() User { return s.user }

// ============================================================================
// Synchronizer
// ============================================================================

type pendingKind int

const (
	pendingInsert pendingKind = iota
	pendingEdit
	pendingDelete
)

type pendingOp struct {
	kind      pendingKind
	clientKey string  // insert: matches a server echo arriving before the confirm
	prevBody  string  // edit: rollback value
	removed   Message // delete: rollback row
}

// Synchronizer owns the authoritative in-memory message list for the active
// room. Three concurrent sources feed it — the periodic poll snapshot, the
// push insert stream, and local optimistic mutations — and all of them land
// in the same merge, which is idempotent and commutative: any interleaving
// of the same inputs converges to the same sequence, ordered by
// (created_at, id) ascending with no duplicate IDs.
//
// Results from a previous room are detected by an activation generation
// counter and discarded, so a late callback can never leak into the room
// activated after it.
type Synchronizer struct {
	store        Gateway
	identity     SelfIdentity
	notifier     Notifier
	pollInterval time.Duration
	onChange     func()

	mu         sync.Mutex
	roomID     string
	gen        uint64
	messages   []Message
	present    map[MessageID]int
	lastSeen   MessageID
	pending    map[MessageID]pendingOp
	nextTemp   MessageID
	cancelPoll context.CancelFunc
	sub        Subscription
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithSelf fixes the sender identity to one user.
func WithSelf(user User) SyncOption {
	return func(s *Synchronizer) { s.identity = staticIdentity{user: user} }
}

// WithIdentity wires a live identity source, e.g. a Tracker, so that a
// profile rename is reflected in later sends without rebuilding state.
func WithIdentity(identity SelfIdentity) SyncOption {
	return func(s *Synchronizer) { s.identity = identity }
}

// WithNotifier installs the new-message notifier.
func WithNotifier(n Notifier) SyncOption {
	return func(s *Synchronizer) { s.notifier = n }
}

// WithPollInterval overrides the snapshot refetch cadence.
func WithPollInterval(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.pollInterval = d }
}

// WithOnChange registers a callback fired after every visible change to the
// message list. Invoked without the internal lock held.
func WithOnChange(fn func()) SyncOption {
	return func(s *Synchronizer) { s.onChange = fn }
}

// NewSynchronizer creates an Idle synchronizer over the given gateway.
func NewSynchronizer(store Gateway, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:        store,
		identity:     staticIdentity{},
		notifier:     noopNotifier{},
		pollInterval: DefaultPollInterval,
		present:      make(map[MessageID]int),
		pending:      make(map[MessageID]pendingOp),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports Idle or Syncing.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID == "" {
		return SyncIdle
	}
	return SyncSyncing
}

// ActiveRoom returns the active room ID, or "" when Idle.
func (s *Synchronizer) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Messages returns a copy of the canonical ordered sequence.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastSeenID returns the ID of the last message in the sequence, or 0.
func (s *Synchronizer) LastSeenID() MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// ActivateRoom tears down any previous room, then starts the poll timer and
// the push subscription for roomID. Exactly one of each is live at a time.
func (s *Synchronizer) ActivateRoom(ctx context.Context, roomID string) error {
	s.DeactivateRoom()

	s.mu.Lock()
	s.roomID = roomID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	sub, err := s.store.SubscribeInserts(roomID, func(m Message) {
		s.applyPush(gen, m)
	})
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.roomID = ""
			s.gen++
		}
		s.mu.Unlock()
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.gen != gen {
		// Deactivated (or re-activated) while subscribing.
		s.mu.Unlock()
		cancel()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.cancelPoll = cancel
	s.mu.Unlock()

	go s.pollLoop(pollCtx, gen, roomID)
	return nil
}

// DeactivateRoom stops the poll timer, closes the push subscription, and
// clears all cached state. Safe to call while Idle.
func (s *Synchronizer) DeactivateRoom() {
	s.mu.Lock()
	cancel := s.cancelPoll
	sub := s.sub
	s.cancelPoll = nil
	s.sub = nil
	s.roomID = ""
	s.gen++ // anything still in flight is now stale
	s.messages = nil
	s.present = make(map[MessageID]int)
	s.pending = make(map[MessageID]pendingOp)
	s.lastSeen = 0
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	s.notifyChange()
}

// Refresh fetches a snapshot immediately, outside the poll cadence.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	roomID := s.roomID
	gen := s.gen
	s.mu.Unlock()
	if roomID == "" {
		return ErrNoActiveRoom
	}

	snap, err := s.store.QueryMessages(ctx, roomID)
	if err != nil {
		return err
	}
	s.applySnapshot(gen, snap)
	return nil
}

func (s *Synchronizer) pollLoop(ctx context.Context, gen uint64, roomID string) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		// A failed poll is silent; the next tick retries.
		if snap, err := s.store.QueryMessages(ctx, roomID); err == nil {
			s.applySnapshot(gen, snap)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ============================================================================
// Local mutations
// ============================================================================

// Send applies an optimistic insert, persists it, and reconciles. On
// failure the optimistic entry is rolled back and a WriteError returned.
func (s *Synchronizer) Send(ctx context.Context, body string) (Message, error) {
	self := s.identity.Self()

	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return Message{}, ErrNoActiveRoom
	}
	gen := s.gen
	s.nextTemp--
	temp := Message{
		ID:        s.nextTemp,
		RoomID:    s.roomID,
		Author:    self.DisplayName,
		AuthorID:  self.ID,
		AvatarURL: self.AvatarURL,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		ClientKey: uuid.NewString(),
	}
	s.pending[temp.ID] = pendingOp{kind: pendingInsert, clientKey: temp.ClientKey}
	s.mergeLocked([]Message{temp})
	s.mu.Unlock()
	s.notifyChange()

	srv, err := s.store.InsertMessage(ctx, MessageDraft{
		RoomID:    temp.RoomID,
		Author:    temp.Author,
		AuthorID:  temp.AuthorID,
		AvatarURL: temp.AvatarURL,
		Body:      temp.Body,
		ClientKey: temp.ClientKey,
	})

	s.mu.Lock()
	if s.gen != gen {
		// Room switched while the write was in flight; the optimistic state
		// is already gone and there is nothing to reconcile into.
		s.mu.Unlock()
		if err != nil {
			return Message{}, err
		}
		return srv, nil
	}

	if err != nil {
		s.removeLocked(temp.ID)
		delete(s.pending, temp.ID)
		s.mu.Unlock()
		s.notifyChange()
		return Message{}, err
	}

	// Swap temp for the server row in one state update: the echo may have
	// already replaced it via the client key, in which case only the
	// (deduplicating) merge below has any effect.
	if _, still := s.pending[temp.ID]; still {
		s.removeLocked(temp.ID)
		delete(s.pending, temp.ID)
	}
	s.mergeLocked([]Message{srv})
	s.mu.Unlock()
	s.notifyChange()
	return srv, nil
}

// Edit rewrites a message body optimistically, then persists. A row the
// server no longer has is left edited locally until the next snapshot; the
// call itself reports success, matching intent for a vanished message.
func (s *Synchronizer) Edit(ctx context.Context, id MessageID, newBody string) error {
	if id.IsLocal() {
		return &WriteError{Op: "edit", Err: errors.New("message not yet confirmed")}
	}

	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	gen := s.gen
	if idx, ok := s.present[id]; ok {
		s.pending[id] = pendingOp{kind: pendingEdit, prevBody: s.messages[idx].Body}
		s.messages[idx].Body = newBody
	}
	s.mu.Unlock()
	s.notifyChange()

	err := s.store.UpdateMessageBody(ctx, id, newBody)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	op, had := s.pending[id]
	delete(s.pending, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		if idx, ok := s.present[id]; ok && had {
			s.messages[idx].Body = op.prevBody
		}
		s.mu.Unlock()
		s.notifyChange()
		return err
	}
	s.mu.Unlock()
	s.notifyChange()
	return nil
}

// Delete removes a message optimistically, then persists. ErrNotFound from
// the store is success: the message is gone either way.
func (s *Synchronizer) Delete(ctx context.Context, id MessageID) error {
	if id.IsLocal() {
		return &WriteError{Op: "delete", Err: errors.New("message not yet confirmed")}
	}

	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	gen := s.gen
	if idx, ok := s.present[id]; ok {
		s.pending[id] = pendingOp{kind: pendingDelete, removed: s.messages[idx]}
		s.removeLocked(id)
	}
	s.mu.Unlock()
	s.notifyChange()

	err := s.store.DeleteMessage(ctx, id)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	op, had := s.pending[id]
	delete(s.pending, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		if had {
			s.mergeLocked([]Message{op.removed})
		}
		s.mu.Unlock()
		s.notifyChange()
		return err
	}
	s.mu.Unlock()
	s.notifyChange()
	return nil
}

// ============================================================================
// Merge
// ============================================================================

func (s *Synchronizer) applySnapshot(gen uint64, batch []Message) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return // stale: the room was switched after this fetch started
	}
	changed := s.mergeLocked(batch)
	s.mu.Unlock()
	if changed {
		s.notifyChange()
	}
}

func (s *Synchronizer) applyPush(gen uint64, m Message) {
	self := s.identity.Self()

	s.mu.Lock()
	if s.gen != gen || m.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	_, wasPresent := s.present[m.ID]
	changed := s.mergeLocked([]Message{m})
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
	// Notify only for genuinely new rows from someone else: an echo of our
	// own send or a redelivered row must stay silent.
	if !wasPresent && !isSameAuthor(m, self) {
		fireNotify(s.notifier, m.Author, m.Body)
	}
}

func isSameAuthor(m Message, self User) bool {
	if m.AuthorID != "" && self.ID != "" {
		return m.AuthorID == self.ID
	}
	return m.Author == self.DisplayName
}

// mergeLocked unions batch into the canonical sequence: duplicate IDs keep
// the most recently observed body (last write wins, which settles the
// edit-vs-insert-echo race), new IDs are appended, and the sequence is
// re-sorted by (created_at, id). Callers hold s.mu.
func (s *Synchronizer) mergeLocked(batch []Message) bool {
	changed := false
	for _, m := range batch {
		// A server echo carrying our client key supersedes the optimistic
		// temp row even before the insert call returns.
		if m.ClientKey != "" && !m.ID.IsLocal() {
			for tempID, op := range s.pending {
				if op.kind == pendingInsert && op.clientKey == m.ClientKey && tempID != m.ID {
					s.removeLocked(tempID)
					delete(s.pending, tempID)
					changed = true
					break
				}
			}
		}

		if idx, ok := s.present[m.ID]; ok {
			if s.messages[idx].Body != m.Body {
				s.messages[idx].Body = m.Body
				changed = true
			}
			continue
		}
		s.messages = append(s.messages, m)
		changed = true
	}

	if changed {
		sort.Slice(s.messages, func(i, j int) bool {
			return s.messages[i].Before(s.messages[j])
		})
		s.reindexLocked()
	}
	return changed
}

func (s *Synchronizer) removeLocked(id MessageID) {
	idx, ok := s.present[id]
	if !ok {
		return
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.reindexLocked()
}

func (s *Synchronizer) reindexLocked() {
	s.present = make(map[MessageID]int, len(s.messages))
	for i, m := range s.messages {
		s.present[m.ID] = i
	}
	if len(s.messages) > 0 {
		s.lastSeen = s.messages[len(s.messages)-1].ID
	} else {
		s.lastSeen = 0
	}
}

// SetOnChange replaces the change callback. Useful when the callback needs a
// reference to the synchronizer itself. Call before ActivateRoom.
func (s *Synchronizer) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Synchronizer) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
