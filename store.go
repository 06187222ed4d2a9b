package wavelet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ============================================================================
// Gateway contract
// ============================================================================

// Gateway is the data-store surface the synchronizer consumes. QueryMessages
// returns a full snapshot that may be stale the instant it returns; insert
// delivery via SubscribeInserts is at-least-once and unordered relative to
// concurrent queries. The synchronizer's merge absorbs both properties.
type Gateway interface {
	QueryMessages(ctx context.Context, roomID string) ([]Message, error)
	InsertMessage(ctx context.Context, draft MessageDraft) (Message, error)
	UpdateMessageBody(ctx context.Context, id MessageID, newBody string) error
	DeleteMessage(ctx context.Context, id MessageID) error
	SubscribeInserts(roomID string, onInsert func(Message)) (Subscription, error)
	ListRooms(ctx context.Context) ([]Room, error)
	UpsertRoom(ctx context.Context, name, creatorID string) error
}

// Subscription is a live insert feed. Unsubscribe is idempotent and safe to
// call during teardown even if no delivery ever occurred.
type Subscription interface {
	Unsubscribe()
}

// ============================================================================
// StoreClient — REST row store
// ============================================================================

type storeErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

// StoreClient implements Gateway against the backend's REST row store.
// Realtime insert delivery is delegated to the client's RealtimeClient.
type StoreClient struct {
	c *Client
}

func newStoreClient(c *Client) *StoreClient {
	return &StoreClient{c: c}
}

func storeError(op string, resp *apiResponse) error {
	var p storeErrorPayload
	_ = json.Unmarshal(resp.Body, &p)
	msg := p.Message
	if msg == "" {
		msg = http.StatusText(resp.Status)
	}
	if p.Code != "" {
		msg = p.Code + ": " + msg
	}
	return &WriteError{Op: op, Err: fmt.Errorf("HTTP %d: %s", resp.Status, msg)}
}

// QueryMessages returns the full message snapshot for a room, ascending by
// created_at with ID as the tie-break, matching the synchronizer's order.
func (s *StoreClient) QueryMessages(ctx context.Context, roomID string) ([]Message, error) {
	query := url.Values{
		"room_id": {"eq." + roomID},
		"order":   {"created_at.asc,id.asc"},
		"select":  {"*"},
	}
	resp, err := s.c.doRequest(ctx, "GET", "/rest/v1/messages", nil, query, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 300 {
		return nil, storeError("query", resp)
	}
	rows, err := decodeJSON[[]Message](resp.Body)
	if err != nil {
		return nil, err
	}
	return *rows, nil
}

// InsertMessage persists a draft and returns the server row with its
// assigned ID and created_at.
func (s *StoreClient) InsertMessage(ctx context.Context, draft MessageDraft) (Message, error) {
	headers := map[string]string{"Prefer": "return=representation"}
	resp, err := s.c.doRequest(ctx, "POST", "/rest/v1/messages", draft, nil, headers)
	if err != nil {
		return Message{}, &WriteError{Op: "insert", Err: err}
	}
	if resp.Status >= 300 {
		return Message{}, storeError("insert", resp)
	}
	rows, err := decodeJSON[[]Message](resp.Body)
	if err != nil {
		return Message{}, &WriteError{Op: "insert", Err: err}
	}
	if len(*rows) == 0 {
		return Message{}, &WriteError{Op: "insert", Err: fmt.Errorf("no row returned")}
	}
	return (*rows)[0], nil
}

// UpdateMessageBody rewrites the body of one message. A missing row is
// ErrNotFound; the caller decides whether that counts as success.
func (s *StoreClient) UpdateMessageBody(ctx context.Context, id MessageID, newBody string) error {
	query := url.Values{"id": {"eq." + strconv.FormatInt(int64(id), 10)}}
	headers := map[string]string{"Prefer": "return=representation"}
	body := map[string]string{"body": newBody}
	resp, err := s.c.doRequest(ctx, "PATCH", "/rest/v1/messages", body, query, headers)
	if err != nil {
		return &WriteError{Op: "update", Err: err}
	}
	if resp.Status >= 300 {
		return storeError("update", resp)
	}
	return errIfNoRows(resp.Body)
}

// DeleteMessage removes one message. A missing row is ErrNotFound.
func (s *StoreClient) DeleteMessage(ctx context.Context, id MessageID) error {
	query := url.Values{"id": {"eq." + strconv.FormatInt(int64(id), 10)}}
	headers := map[string]string{"Prefer": "return=representation"}
	resp, err := s.c.doRequest(ctx, "DELETE", "/rest/v1/messages", nil, query, headers)
	if err != nil {
		return &WriteError{Op: "delete", Err: err}
	}
	if resp.Status >= 300 {
		return storeError("delete", resp)
	}
	return errIfNoRows(resp.Body)
}

// errIfNoRows maps an empty representation (the filter matched nothing)
// onto ErrNotFound.
func errIfNoRows(body []byte) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil // non-array representation: assume the write landed
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// SubscribeInserts opens a realtime insert feed scoped to one room.
func (s *StoreClient) SubscribeInserts(roomID string, onInsert func(Message)) (Subscription, error) {
	return s.c.realtime.SubscribeInserts(roomID, onInsert)
}

type roomRow struct {
	Name      string `json:"name"`
	CreatedBy string `json:"created_by,omitempty"`
}

// ListRooms returns every room row, classified by ID shape.
func (s *StoreClient) ListRooms(ctx context.Context) ([]Room, error) {
	query := url.Values{
		"order":  {"created_at.asc"},
		"select": {"*"},
	}
	resp, err := s.c.doRequest(ctx, "GET", "/rest/v1/rooms", nil, query, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 300 {
		return nil, storeError("list rooms", resp)
	}
	rows, err := decodeJSON[[]roomRow](resp.Body)
	if err != nil {
		return nil, err
	}
	rooms := make([]Room, 0, len(*rows))
	for _, r := range *rows {
		rooms = append(rooms, Room{ID: r.Name, Kind: KindOfRoomID(r.Name)})
	}
	return rooms, nil
}

// UpsertRoom persists a room row. "Already exists" is the common, expected
// case and is not an error: the insert asks the server to ignore duplicates,
// and a conflict status is treated as success as well.
func (s *StoreClient) UpsertRoom(ctx context.Context, name, creatorID string) error {
	query := url.Values{"on_conflict": {"name"}}
	headers := map[string]string{"Prefer": "resolution=ignore-duplicates"}
	row := roomRow{Name: name, CreatedBy: creatorID}
	resp, err := s.c.doRequest(ctx, "POST", "/rest/v1/rooms", row, query, headers)
	if err != nil {
		return &WriteError{Op: "upsert room", Err: err}
	}
	if resp.Status == http.StatusConflict {
		return nil
	}
	if resp.Status >= 300 {
		return storeError("upsert room", resp)
	}
	return nil
}
