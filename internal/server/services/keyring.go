package services

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/vaultcipher"
)

// Keyring holds the unlocked cipher of every live session. Ciphers are
// destroyed when their entry is dropped.
type Keyring struct {
	mu      sync.Mutex
	entries map[string]keyringEntry
}

type keyringEntry struct {
	ownerID   string
	expiresAt time.Time
	cipher    *vaultcipher.Cipher
}

func NewKeyring() *Keyring {
	return &Keyring{entries: make(map[string]keyringEntry)}
}

// Put stores c for sessionID, destroying any cipher it replaces.
func (k *Keyring) Put(sessionID, ownerID string, expiresAt time.Time, c *vaultcipher.Cipher) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if old, ok := k.entries[sessionID]; ok && old.cipher != c {
		old.cipher.Destroy()
	}
	k.entries[sessionID] = keyringEntry{ownerID: ownerID, expiresAt: expiresAt, cipher: c}
}

func (k *Keyring) Get(sessionID string) (*vaultcipher.Cipher, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[sessionID]
	return e.cipher, ok
}

func (k *Keyring) Drop(sessionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if e, ok := k.entries[sessionID]; ok {
		e.cipher.Destroy()
		delete(k.entries, sessionID)
	}
}

// DropOwner removes every cipher of ownerID and returns how many.
func (k *Keyring) DropOwner(ownerID string) int {
	return k.dropWhere(func(e keyringEntry) bool { return e.ownerID == ownerID })
}

// DropExpired removes ciphers whose session expired at or before now.
func (k *Keyring) DropExpired(now time.Time) int {
	return k.dropWhere(func(e keyringEntry) bool { return !now.Before(e.expiresAt) })
}

func (k *Keyring) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyring) dropWhere(match func(keyringEntry) bool) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for id, e := range k.entries {
		if match(e) {
			e.cipher.Destroy()
			delete(k.entries, id)
			n++
		}
	}
	return n
}
