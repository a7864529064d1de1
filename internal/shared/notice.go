package shared

import "sync"

// Notice kinds.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
	NoticeWarning = "warning"
)

// Notice is a one-time operator message.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NoticeBoard queues notices for the operator until they are read.
type NoticeBoard struct {
	mu      sync.Mutex
	notices []Notice
	limit   int
}

// NewNoticeBoard returns a board retaining at most limit unread notices.
func NewNoticeBoard(limit int) *NoticeBoard {
	if limit <= 0 {
		limit = 50
	}
	return &NoticeBoard{limit: limit}
}

// Add queues a notice, dropping the oldest when full.
func (b *NoticeBoard) Add(kind, message string) {
	if b == nil || message == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Kind: kind, Message: message})
	if len(b.notices) > b.limit {
		b.notices = b.notices[len(b.notices)-b.limit:]
	}
}

// Success queues a success notice.
func (b *NoticeBoard) Success(message string) { b.Add(NoticeSuccess, message) }

// Error queues an error notice.
func (b *NoticeBoard) Error(message string) { b.Add(NoticeError, message) }

// Warn queues a warning notice.
func (b *NoticeBoard) Warn(message string) { b.Add(NoticeWarning, message) }

// Pop retrieves and clears the oldest notice.
func (b *NoticeBoard) Pop() *Notice {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.notices) == 0 {
		return nil
	}
	n := b.notices[0]
	b.notices = b.notices[1:]
	return &n
}

// Drain returns all queued notices and clears the board.
func (b *NoticeBoard) Drain() []Notice {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	if out == nil {
		return []Notice{}
	}
	return out
}
