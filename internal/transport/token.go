package transport

import "sync"

// tokenHolder guards the access token. The refresh path is its only writer;
// every call reads it when building the request.
type tokenHolder struct {
	mu    sync.RWMutex
	value string
}

func (h *tokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

func (h *tokenHolder) Set(token string) {
	h.mu.Lock()
	h.value = token
	h.mu.Unlock()
}
