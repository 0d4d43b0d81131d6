package crosstab

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/fanout"
)

// ErrInvalidAnnouncement is returned for announcements missing required fields.
var ErrInvalidAnnouncement = errors.New("invalid tab announcement")

// Announcement tells an operator's other tabs that one tab processed records.
type Announcement struct {
	Operator   string    `json:"operator"`
	OriginTab  string    `json:"originTab"`
	ActionType string    `json:"actionType"`
	IDs        []string  `json:"ids"`
	At         time.Time `json:"at"`
}

// Key is the dedup key of the announcement: the same action on the same
// records by the same operator, whichever tab sent it.
func (a Announcement) Key() string {
	ids := append([]string(nil), a.IDs...)
	sort.Strings(ids)
	return "crosstab:" + a.Operator + "|" + a.ActionType + "|" + strings.Join(ids, ",")
}

// Tab is one open view subscribed to its operator's announcements.
type Tab struct {
	Operator string
	ID       string
	ch       chan Announcement
}

// Announcements returns the tab's stream. It is closed on unsubscribe.
func (t *Tab) Announcements() <-chan Announcement { return t.ch }

// Bus routes announcements between the tabs of one operator. Repeats of an
// announcement within the dedup window are dropped whichever tab sends them.
type Bus struct {
	suppressor fanout.Suppressor
	now        func() time.Time
	buffer     int
	logger     *zap.Logger

	mu   sync.RWMutex
	tabs map[string]map[*Tab]struct{}
}

// NewBus builds a bus. suppressor holds the dedup window.
func NewBus(suppressor fanout.Suppressor, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		suppressor: suppressor,
		now:        time.Now,
		buffer:     16,
		logger:     logger,
		tabs:       make(map[string]map[*Tab]struct{}),
	}
}

// Subscribe opens a tab for operator. The returned func closes it.
func (b *Bus) Subscribe(operator, tabID string) (*Tab, func()) {
	tab := &Tab{Operator: operator, ID: tabID, ch: make(chan Announcement, b.buffer)}
	b.mu.Lock()
	if b.tabs[operator] == nil {
		b.tabs[operator] = make(map[*Tab]struct{})
	}
	b.tabs[operator][tab] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return tab, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.tabs[operator], tab)
			if len(b.tabs[operator]) == 0 {
				delete(b.tabs, operator)
			}
			close(tab.ch)
			b.mu.Unlock()
		})
	}
}

// Announce delivers a to the operator's other tabs. It reports false when
// the announcement duplicates one already delivered within the window.
func (b *Bus) Announce(ctx context.Context, a Announcement) (bool, error) {
	if a.Operator == "" || a.OriginTab == "" || a.ActionType == "" || len(a.IDs) == 0 {
		return false, ErrInvalidAnnouncement
	}
	if a.At.IsZero() {
		a.At = b.now().UTC()
	}

	fresh, err := b.suppressor.Claim(ctx, a.Key())
	if err != nil {
		return false, err
	}
	if !fresh {
		b.logger.Debug("duplicate tab announcement suppressed",
			zap.String("actor", a.Operator),
			zap.String("origin_tab", a.OriginTab),
			zap.String("action", a.ActionType))
		return false, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for tab := range b.tabs[a.Operator] {
		if tab.ID == a.OriginTab {
			continue
		}
		select {
		case tab.ch <- a:
		default:
		}
	}
	return true, nil
}
