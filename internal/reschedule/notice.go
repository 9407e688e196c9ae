package reschedule

import (
	"errors"
	"sync"

	appLog "fieldcal/internal/log"
)

// Level is the severity of a user notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a transient message for the dispatcher.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier shows transient notices to the dispatcher.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// LogNotifier writes notices to the application log.
type LogNotifier struct{}

func (LogNotifier) Info(msg string)  { appLog.Info("notice", "message", msg) }
func (LogNotifier) Error(msg string) { appLog.Error("notice", errors.New(msg)) }

// Inbox keeps the most recent notices for clients that poll for them.
type Inbox struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

// NewInbox keeps up to limit notices; older ones are dropped.
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 20
	}
	return &Inbox{limit: limit}
}

func (b *Inbox) Info(msg string)  { b.push(Notice{Level: LevelInfo, Message: msg}) }
func (b *Inbox) Error(msg string) { b.push(Notice{Level: LevelError, Message: msg}) }

func (b *Inbox) push(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, n)
	if over := len(b.notices) - b.limit; over > 0 {
		b.notices = append([]Notice(nil), b.notices[over:]...)
	}
}

// Drain returns and clears the pending notices.
func (b *Inbox) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}
