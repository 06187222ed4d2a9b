package wavelet

import "strings"

// PairwiseSeparator joins the two participant identities inside a pairwise
// room ID. Identities containing it are rejected at validation time, so a
// pairwise ID always splits back into exactly two participants.
const PairwiseSeparator = "::"

// ResolveGroupRoomID normalizes a user-supplied group name into a canonical
// room ID: trimmed and lowercased. An empty name after trimming fails with
// InvalidNameError.
func ResolveGroupRoomID(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "", &InvalidNameError{Name: raw, Reason: "empty room name"}
	}
	if strings.Contains(name, PairwiseSeparator) {
		return "", &InvalidNameError{Name: raw, Reason: "room name may not contain " + PairwiseSeparator}
	}
	return name, nil
}

// ResolvePairwiseRoomID derives the canonical room ID for a one-to-one
// conversation between two identities. The identities are sorted before
// joining, so both participants compute the same ID without coordination:
//
//	ResolvePairwiseRoomID(a, b) == ResolvePairwiseRoomID(b, a)
func ResolvePairwiseRoomID(a, b string) (string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", &InvalidNameError{Name: a + "," + b, Reason: "empty participant identity"}
	}
	if strings.Contains(a, PairwiseSeparator) || strings.Contains(b, PairwiseSeparator) {
		return "", &InvalidNameError{Name: a + "," + b, Reason: "identity may not contain " + PairwiseSeparator}
	}
	if a == b {
		return "", &InvalidNameError{Name: a, Reason: "cannot open a chat with yourself"}
	}
	if a > b {
		a, b = b, a
	}
	return a + PairwiseSeparator + b, nil
}

// IsPairwiseRoomID reports whether the ID has the derived two-participant shape.
func IsPairwiseRoomID(id string) bool {
	return strings.Count(id, PairwiseSeparator) == 1
}

// ParticipantsOf splits a pairwise room ID back into its two participant
// identities, in lexicographic order.
func ParticipantsOf(id string) (string, string, error) {
	if !IsPairwiseRoomID(id) {
		return "", "", &InvalidNameError{Name: id, Reason: "not a pairwise room id"}
	}
	parts := strings.SplitN(id, PairwiseSeparator, 2)
	if parts[0] == "" || parts[1] == "" {
		return "", "", &InvalidNameError{Name: id, Reason: "malformed pairwise room id"}
	}
	return parts[0], parts[1], nil
}

// KindOfRoomID classifies an ID without consulting the server.
func KindOfRoomID(id string) RoomKind {
	if IsPairwiseRoomID(id) {
		return RoomPairwise
	}
	return RoomGroup
}

// RoomLabel returns the human-facing label for a room: "# name" for groups,
// and the other participant's identity for pairwise rooms.
func RoomLabel(room Room, selfIdentity string) string {
	if room.Kind == RoomPairwise {
		a, b, err := ParticipantsOf(room.ID)
		if err == nil {
			if a == selfIdentity {
				return b
			}
			return a
		}
	}
	return "# " + room.ID
}
