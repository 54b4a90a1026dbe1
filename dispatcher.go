package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Dispatcher serializes sends for the HTTP front-end: requests queue up and
// a single worker runs them one after another.
type Dispatcher struct {
	sender  *Sender
	store   *outcomeStore
	jobs    chan SendRequest
	logger  Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped atomic.Bool
	mu      sync.Mutex // guards jobs against send-after-close
}

// NewDispatcher creates a dispatcher with room for queueSize waiting sends.
func NewDispatcher(sender *Sender, store *outcomeStore, queueSize int, logger Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		sender: sender,
		store:  store,
		jobs:   make(chan SendRequest, queueSize),
		logger: logger,
	}
}

// Start launches the worker.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.runWorker(ctx)
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.abandonQueued(ctx)
			return
		case req, ok := <-d.jobs:
			if !ok {
				return // Channel closed, exit
			}
			d.logger.Log("[%s] Processing send to %v", shortID(req.ID), req.Recipients)
			d.sender.Send(ctx, req)
		}
	}
}

// Profile returns the site profile sends are dispatched to.
func (d *Dispatcher) Profile() *SiteProfile {
	return d.sender.Profile()
}

// abandonQueued stops intake and reports every send still queued. Send
// returns ctx.Err() at once on a cancelled ctx, so nothing reaches the carrier.
func (d *Dispatcher) abandonQueued(ctx context.Context) {
	d.mu.Lock()
	d.stopped.Store(true)
	d.mu.Unlock()

	for {
		select {
		case req, ok := <-d.jobs:
			if !ok {
				return
			}
			d.logger.Log("[%s] Dropping queued send: %v", shortID(req.ID), ctx.Err())
			d.sender.Send(ctx, req)
		default:
			return
		}
	}
}

// Submit queues a send and returns its id. It fails with ErrQueueFull
// rather than blocking the caller, and once the dispatcher has stopped.
func (d *Dispatcher) Submit(req SendRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped.Load() {
		return "", ErrQueueFull
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d.store.pending(req.ID, d.sender.Profile().Name)
	select {
	case d.jobs <- req:
		return req.ID, nil
	default:
		d.store.forget(req.ID)
		return "", ErrQueueFull
	}
}

// Close stops accepting sends and waits for the worker to finish the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.stopped.Swap(true) {
		close(d.jobs)
	}
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

// =============================================================================
// Outcome store
// =============================================================================

const maxStoredOutcomes = 256

type outcomeRecord struct {
	ID      string
	Profile string
	Done    bool
	Outcome Outcome
	Queued  time.Time
}

// outcomeStore remembers recent sends so clients can poll their result.
// It is a Reporter: a reported outcome completes its record.
type outcomeStore struct {
	mu      sync.Mutex
	records map[string]*outcomeRecord
	order   []string
}

func newOutcomeStore() *outcomeStore {
	return &outcomeStore{records: make(map[string]*outcomeRecord)}
}

func (s *outcomeStore) pending(id, profile string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = &outcomeRecord{ID: id, Profile: profile, Queued: time.Now()}
	s.order = append(s.order, id)
	for len(s.order) > maxStoredOutcomes {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *outcomeStore) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *outcomeStore) Report(_ context.Context, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[o.SendID]
	if !ok {
		return
	}
	rec.Done = true
	rec.Outcome = o
}

// Get returns a copy of the record for id.
func (s *outcomeStore) Get(id string) (outcomeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return outcomeRecord{}, false
	}
	return *rec, true
}
