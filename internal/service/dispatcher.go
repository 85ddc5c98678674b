// Package service provides the orchestration layer of the bridge status
// engine.
//
// The dispatcher component implements a fan-out distribution system that
// delivers freshly derived status updates to multiple subscribers while
// handling slow clients gracefully.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"bridgewatch/internal/utils"
)

// WildcardSubject subscribes to updates for every request and vault.
const WildcardSubject = "*"

// Subscriber represents a client subscription to specific request or vault
// ids (or the wildcard).
//
// Each subscriber has its own buffered channel for receiving updates and a
// set of subject ids for filtering.
type Subscriber struct {
	id       uuid.UUID
	ch       chan StatusUpdate
	subjects map[string]struct{}
	wildcard bool
}

// Updates returns the subscriber's update stream. The channel is closed on
// unsubscribe or dispatcher shutdown.
func (s *Subscriber) Updates() <-chan StatusUpdate {
	return s.ch
}

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	MaxSubjectsAllowed int // Maximum subjects per subscription to prevent resource abuse
}

// Dispatcher fans status updates out to subscribers.
//
// It uses the actor model: a single goroutine owns the subscribers map, so no
// mutex is needed. Subscription and unsubscription requests arrive through
// channels.
type Dispatcher struct {
	cfg              DispatcherConfig
	subscribers      map[uuid.UUID]*Subscriber // owned by the dispatch goroutine
	subscriptionCh   chan *Subscriber
	unsubscriptionCh chan *Subscriber
	started          atomic.Bool
}

// NewDispatcher creates a new Dispatcher instance with the provided
// configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:              cfg,
		subscribers:      make(map[uuid.UUID]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10), // Buffered to prevent blocking
		unsubscriptionCh: make(chan *Subscriber, 10), // Buffered to prevent blocking
	}
}

// Subscribe creates a new subscription for the given subject ids. The
// wildcard "*" subscribes to everything.
func (d *Dispatcher) Subscribe(subjects []string) (*Subscriber, error) {
	if !d.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if err := utils.ValidateSubjects(subjects, d.cfg.MaxSubjectsAllowed); err != nil {
		return nil, err
	}

	subjectSet := make(map[string]struct{}, len(subjects))
	wildcard := false
	for _, s := range subjects {
		if s == WildcardSubject {
			wildcard = true
			continue
		}
		subjectSet[s] = struct{}{}
	}

	sub := &Subscriber{
		id:       uuid.New(),
		ch:       make(chan StatusUpdate, 100), // buffer size per client
		subjects: subjectSet,
		wildcard: wildcard,
	}

	// write to channel, return error if blocked
	select {
	case d.subscriptionCh <- sub:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}

	return sub, nil
}

// subscribe adds a subscriber to the active subscribers map.
func (d *Dispatcher) subscribe(sub *Subscriber) {
	d.subscribers[sub.id] = sub
}

// Unsubscribe removes a subscriber from the dispatcher.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case d.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

// unsubscribe removes a subscriber and cleans up its channel.
func (d *Dispatcher) unsubscribe(sub *Subscriber) {
	if _, ok := d.subscribers[sub.id]; ok {
		delete(d.subscribers, sub.id)
		close(sub.ch)
	}
}

// StartDispatching starts the dispatcher goroutine that owns subscriber
// state and distributes updates from the evaluator's stream.
func (d *Dispatcher) StartDispatching(ctx context.Context, updates <-chan StatusUpdate) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			for _, sub := range d.subscribers {
				close(sub.ch)
			}
			d.subscribers = make(map[uuid.UUID]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case sub := <-d.subscriptionCh:
				d.subscribe(sub)
			case sub := <-d.unsubscriptionCh:
				d.unsubscribe(sub)
			case update, ok := <-updates:
				if !ok {
					log.Info().Msg("update stream closed, dispatcher stopping")
					return
				}
				d.dispatch(update)
			}
		}
	}()
	return nil
}

// dispatch delivers an update to every interested subscriber.
//
// Only called from the dispatcher goroutine, so map access needs no locking.
// When a subscriber's buffer is full the oldest buffered update is dropped so
// the newest one always lands.
func (d *Dispatcher) dispatch(update StatusUpdate) {
	for _, sub := range d.subscribers {
		interested := sub.wildcard
		if !interested {
			_, interested = sub.subjects[update.SubjectID]
		}
		if !interested {
			continue
		}

		select {
		case sub.ch <- update:
		default:
			log.Info().
				Str("subscriber", sub.id.String()).
				Str("subject", update.SubjectID).
				Msg("subscriber is too slow, dropping oldest buffered update")
			<-sub.ch
			sub.ch <- update
		}
	}
}
