package session

import "sync"

// Identity holds the signed-in user id. The socket client reads it on every
// connect attempt; login replaces it at runtime.
type Identity struct {
	mu     sync.RWMutex
	userID string
}

// NewIdentity returns an identity preset to userID, which may be empty.
func NewIdentity(userID string) *Identity {
	return &Identity{userID: userID}
}

// UserID returns the current user id, or "" when nobody is signed in.
func (i *Identity) UserID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userID
}

// Set replaces the current user id.
func (i *Identity) Set(userID string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}
