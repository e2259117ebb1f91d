package bot

import (
	"context"
	"sync"
	"time"
)

// Step names the multistep dialog a chat is currently in.
type Step string

const (
	StepSupportMessage Step = "support_message"
	StepWithdrawAmount Step = "withdraw_amount"
	StepDepositAmount  Step = "deposit_amount"
)

type conversation struct {
	step      Step
	data      map[string]string
	expiresAt time.Time
}

// StateStore keeps per-chat dialog state in process memory with a TTL, so
// an abandoned dialog does not trap the chat forever. One bot process owns
// one polling connection, so the state never needs to leave the process.
type StateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]conversation
}

func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{
		ttl:     ttl,
		entries: make(map[int64]conversation),
	}
}

func (s *StateStore) Set(chatID int64, step Step, data map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[chatID] = conversation{
		step:      step,
		data:      data,
		expiresAt: time.Now().Add(s.ttl),
	}
}

// Get returns the chat's active step and its data. An expired entry is
// removed and reported as absent.
func (s *StateStore) Get(chatID int64) (Step, map[string]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[chatID]
	if !ok {
		return "", nil, false
	}
	if time.Now().After(c.expiresAt) {
		delete(s.entries, chatID)
		return "", nil, false
	}
	return c.step, c.data, true
}

func (s *StateStore) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, chatID)
}

// StartJanitor sweeps expired entries until ctx is done. Get already drops
// expired entries lazily; the sweep keeps the map from growing on chats
// that never come back.
func (s *StateStore) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *StateStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for chatID, c := range s.entries {
		if now.After(c.expiresAt) {
			delete(s.entries, chatID)
		}
	}
}
