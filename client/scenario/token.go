package scenario

import "sync"

// Token is the process-wide auth token shared by all simulated users. The
// empty string means "not set".
type Token struct {
	mu    sync.RWMutex
	value string
}

func (t *Token) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.value
}

func (t *Token) Set(value string) {
	t.mu.Lock()
	t.value = value
	t.mu.Unlock()
}

func (t *Token) IsSet() bool {
	return t.Get() != ""
}

// Clear unsets the token and returns the previous value.
func (t *Token) Clear() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.value
	t.value = ""

	return old
}

// CompareAndClear unsets the token only if it still holds old.
func (t *Token) CompareAndClear(old string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old == "" || t.value != old {
		return false
	}

	t.value = ""

	return true
}
