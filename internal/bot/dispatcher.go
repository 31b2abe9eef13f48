package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"inventorybot/internal/services/ingest"
	"inventorybot/internal/services/lookup"
	"inventorybot/internal/services/report"
	"inventorybot/internal/session"

	"github.com/sirupsen/logrus"
)

const (
	queueSize   = 64
	idleTimeout = 10 * time.Minute

	busyText = "Still working on your previous request, please retry in a moment."
)

// CommandEvent is a slash command, name without the slash
type CommandEvent struct {
	ConversationID int64
	Name           string
	Args           string
}

func (e CommandEvent) Conversation() int64 { return e.ConversationID }

// conversation is owned by exactly one worker goroutine
type conversation struct {
	id     int64
	queue  chan session.Event
	ingest *session.Session
	lookup *lookup.Conversation
}

func (c *conversation) idle() bool {
	return c.ingest == nil && c.lookup == nil
}

// Dispatcher runs every conversation on its own goroutine and feeds it events
// strictly in arrival order. Conversations share nothing but the catalog and the store.
type Dispatcher struct {
	machine   *session.Machine
	lookup    *lookup.Service
	tracker   *ingest.Tracker
	presenter report.Presenter
	log       *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	conversations map[int64]*conversation
	closed        bool
	idleTimeout   time.Duration
	queueSize     int
}

func NewDispatcher(machine *session.Machine, lookupSvc *lookup.Service, tracker *ingest.Tracker, presenter report.Presenter, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		machine:       machine,
		lookup:        lookupSvc,
		tracker:       tracker,
		presenter:     presenter,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		conversations: make(map[int64]*conversation),
		idleTimeout:   idleTimeout,
		queueSize:     queueSize,
	}
}

// Dispatch queues an event for its conversation, starting a worker when needed.
// It never blocks; when a conversation's queue is full the event is dropped
// and the user is asked to retry.
func (d *Dispatcher) Dispatch(ev session.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	id := ev.Conversation()
	c, ok := d.conversations[id]
	if !ok {
		c = &conversation{id: id, queue: make(chan session.Event, d.queueSize)}
		d.conversations[id] = c
		d.wg.Add(1)
		go d.run(c)
	}

	select {
	case c.queue <- ev:
		return true
	default:
	}

	d.log.WithField("conversation_id", id).Warn("Conversation queue full, event dropped")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.say(context.WithoutCancel(d.ctx), id, busyText)
	}()
	return false
}

// Shutdown stops accepting events, lets running handlers finish and waits for workers
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(c *conversation) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-c.queue:
			d.handle(c, ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idleTimeout)

		case <-timer.C:
			// sessions wait for input indefinitely; only an empty conversation retires
			d.mu.Lock()
			if c.idle() && len(c.queue) == 0 {
				delete(d.conversations, c.id)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idleTimeout)

		case <-d.ctx.Done():
			return
		}
	}
}

// handle runs one event; a panic is reported to the user and the session is dropped
func (d *Dispatcher) handle(c *conversation, ev session.Event) {
	log := d.log.WithField("conversation_id", c.id)
	// handlers outlive shutdown so a running batch is never cut short
	ctx := context.WithoutCancel(d.ctx)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Errorf("Handler panic recovered\n%s", debug.Stack())
			c.ingest, c.lookup = nil, nil
			d.say(ctx, c.id, fmt.Sprintf("Unexpected error: %v. Please start again.", r))
		}
	}()

	if cmd, ok := ev.(CommandEvent); ok {
		d.command(ctx, c, cmd)
		return
	}

	switch {
	case c.ingest != nil:
		if err := d.machine.Handle(ctx, c.ingest, ev); err != nil {
			log.WithError(err).Debug("Ingestion event not applied")
		}
		if c.ingest.Done() {
			c.ingest = nil
		}
	case c.lookup != nil:
		if err := d.lookup.Handle(ctx, c.lookup, ev); err != nil {
			log.WithError(err).Debug("Lookup event not applied")
		}
		if c.lookup.Done {
			c.lookup = nil
		}
	default:
		if _, ok := ev.(session.CancelEvent); ok {
			d.say(ctx, c.id, "Nothing to cancel.")
			return
		}
		d.say(ctx, c.id, "Send /inputftm or /inputmetro to load data, /help for all commands.")
	}
}

func (d *Dispatcher) say(ctx context.Context, conversationID int64, text string) {
	if err := d.presenter.PlainMessage(ctx, conversationID, text); err != nil {
		d.log.WithError(err).WithField("conversation_id", conversationID).Warn("Failed to deliver message")
	}
}
