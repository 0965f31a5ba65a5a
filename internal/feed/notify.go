package feed

import "sync"

// NoticeKind classifies the outbound signals pages observe.
type NoticeKind string

const (
	// NoticeFeedChanged asks consumers to re-filter and re-render.
	NoticeFeedChanged NoticeKind = "feed_changed"
	// NoticeReset asks consumers to restore their documented defaults.
	NoticeReset NoticeKind = "platform_reset"
)

// Notice is one outbound signal.
type Notice struct {
	Kind NoticeKind
}

const noticeBuffer = 16

// notifier fans notices out to subscribed consumers. Delivery is best
// effort: a consumer that cannot keep up misses intermediate notices and
// re-reads the feed on the next one.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notice
	nextID int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Notice)}
}

func (n *notifier) subscribe() (<-chan Notice, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan Notice, noticeBuffer)
	n.subs[id] = ch
	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if existing, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (n *notifier) publish(kind NoticeKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- Notice{Kind: kind}:
		default:
		}
	}
}
