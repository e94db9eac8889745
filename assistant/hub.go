package assistant

import (
	"sync"

	"github.com/dailyux/eldercare-go/eldercare"
)

const subscriberBuffer = 8

// hub fans follow-up replies out to the session's subscribers. Slow
// subscribers miss messages rather than block the scheduler.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan *eldercare.Message]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan *eldercare.Message]struct{})}
}

func (h *hub) subscribe(sessionID string) (<-chan *eldercare.Message, func()) {
	ch := make(chan *eldercare.Message, subscriberBuffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan *eldercare.Message]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
}

func (h *hub) publish(sessionID string, msg *eldercare.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
}
