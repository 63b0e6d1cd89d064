package framework

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Loop is a single consumer loop. Messages posted from any goroutine
// are handed to Handler one at a time in posting order, then the
// controllers run. Handlers never run concurrently with each other or
// with controllers.
type Loop struct {
	// Interval is the tick period; tickers run once per tick.
	Interval time.Duration
	// Handler receives every posted message.
	Handler MessageHandler

	controllers []Controller
	tickers     []Controller

	messages messageList
	lock     sync.Mutex

	wakeUpCh chan struct{}
}

type loopIteration struct {
	*Loop
	ctx    context.Context
	time   time.Time
	ticked bool
}

type messageList struct {
	head *messageItem
	tail *messageItem
}

type messageItem struct {
	msg  Message
	next *messageItem
}

func (l *messageList) append(item *messageItem) {
	if l.head == nil {
		l.head = item
	} else {
		l.tail.next = item
	}
	l.tail = item
}

func (l *messageList) splice(src *messageList) {
	l.head, l.tail, src.head, src.tail = src.head, src.tail, nil, nil
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{Interval: 100 * time.Millisecond, wakeUpCh: make(chan struct{}, 1)}
}

// AddController registers controllers run on every iteration. A
// controller is only ever called from the loop goroutine; the loop never
// starts anything else, even if the controller is also a Runnable.
func (l *Loop) AddController(ctls ...Controller) *Loop {
	l.controllers = append(l.controllers, ctls...)
	return l
}

// AddTicker registers controllers run once per Interval, before the
// regular controllers of that iteration.
func (l *Loop) AddTicker(ctls ...Controller) *Loop {
	l.tickers = append(l.tickers, ctls...)
	return l
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}

	interval := l.Interval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.runIteration(ctx, true)
		case <-l.wakeUpCh:
			l.runIteration(ctx, false)
		}
	}
}

// PostMessage implements LoopControl.
func (l *Loop) PostMessage(msg Message) {
	l.lock.Lock()
	l.messages.append(&messageItem{msg: msg})
	l.lock.Unlock()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// Post posts msg and wakes up the loop.
func (l *Loop) Post(msg Message) {
	l.PostMessage(msg)
	l.TriggerNext()
}

// RunOnce runs a single iteration on the calling goroutine. It is meant
// for driving a loop step by step, as tests do.
func (l *Loop) RunOnce(ctx context.Context, ticked bool) {
	l.runIteration(ctx, ticked)
}

func (l *Loop) runIteration(ctx context.Context, ticked bool) {
	iter := &loopIteration{Loop: l, ctx: ctx, time: time.Now(), ticked: ticked}
	l.drain(ctx)
	if ticked {
		iter.run(l.tickers)
	}
	iter.run(l.controllers)
}

// drain hands messages to the handler until none is left, including
// messages posted by the handler itself.
func (l *Loop) drain(ctx context.Context) {
	for {
		var msgs messageList
		l.lock.Lock()
		msgs.splice(&l.messages)
		l.lock.Unlock()
		if msgs.head == nil {
			return
		}
		for item := msgs.head; item != nil; item = item.next {
			if l.Handler != nil {
				l.Handler.HandleMessage(ctx, item.msg)
			}
		}
	}
}

func (t *loopIteration) run(ctls []Controller) {
	for _, ctl := range ctls {
		if err := ctl.Control(t); err != nil {
			glog.Errorf("controller error: %v", err)
		}
	}
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) Ticked() bool {
	return t.ticked
}
