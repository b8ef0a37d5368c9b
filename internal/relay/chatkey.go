package relay

// ChatKey identifies a two-party conversation. A and B are kept sorted so
// that NewChatKey(x, y) == NewChatKey(y, x).
type ChatKey struct {
	A string
	B string
}

// NewChatKey returns the canonical key for the pair.
func NewChatKey(a, b string) ChatKey {
	if b < a {
		a, b = b, a
	}
	return ChatKey{A: a, B: b}
}

// String renders the key as "A_B".
func (k ChatKey) String() string {
	return k.A + "_" + k.B
}

// Has reports whether userID is one of the two participants.
func (k ChatKey) Has(userID string) bool {
	return k.A == userID || k.B == userID
}
