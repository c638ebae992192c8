// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"go.uber.org/zap"
)

var errFakeClosed = errors.New("fake session closed")

const (
	unsettled int32 = iota
	acked
	rejected
)

type fakeMessage struct {
	tag   uint64
	body  []byte
	state atomic.Int32
}

func newFakeMessage(tag uint64, v any) *fakeMessage {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return &fakeMessage{tag: tag, body: body}
}

func (m *fakeMessage) DeliveryTag() uint64 { return m.tag }
func (m *fakeMessage) RoutingKey() string  { return "" }
func (m *fakeMessage) IsRedelivered() bool { return false }
func (m *fakeMessage) Body() []byte        { return m.body }

func (m *fakeMessage) Ack() error {
	m.state.CompareAndSwap(unsettled, acked)
	return nil
}

func (m *fakeMessage) Reject() error {
	m.state.CompareAndSwap(unsettled, rejected)
	return nil
}

// fakePublisher records payloads per queue and fails queues listed in fail.
type fakePublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
	order     []string
	fail      map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][][]byte), fail: make(map[string]error)}
}

func (p *fakePublisher) Publish(_ context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail[queue]; err != nil {
		return err
	}

	p.published[queue] = append(p.published[queue], body)
	p.order = append(p.order, queue)

	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count(queue string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.published[queue])
}

func (p *fakePublisher) failQueue(queue string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fail[queue] = err
}

func (p *fakePublisher) payloads(queue string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]byte(nil), p.published[queue]...)
}

// fakeSession delivers whatever the test hands to deliver until it is closed.
type fakeSession struct {
	deliveries chan broker.Message
	closed     chan struct{}
	once       sync.Once
	publisher  *fakePublisher

	consumedQueue atomic.Value
	drained       atomic.Int32
}

func newFakeSession(pub *fakePublisher) *fakeSession {
	return &fakeSession{
		deliveries: make(chan broker.Message),
		closed:     make(chan struct{}),
		publisher:  pub,
	}
}

func (s *fakeSession) Consume(queue string, _ int) (broker.Consumer, error) {
	s.consumedQueue.Store(queue)
	return fakeConsumer{s}, nil
}

func (s *fakeSession) Publisher() (broker.Publisher, error) { return s.publisher, nil }

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) deliver(msg broker.Message) bool {
	select {
	case s.deliveries <- msg:
		return true
	case <-s.closed:
		return false
	}
}

type fakeConsumer struct {
	s *fakeSession
}

func (c fakeConsumer) Consume() (broker.Message, error) {
	select {
	case msg := <-c.s.deliveries:
		return msg, nil
	case <-c.s.closed:
		return nil, errFakeClosed
	}
}

func (c fakeConsumer) Close() error { return c.s.Close() }

func (c fakeConsumer) Wait() { c.s.drained.Add(1) }

// fakeDialer hands out sessions in order; a nil session entry fails the dial.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dials    int
}

func (d *fakeDialer) Dial(context.Context) (broker.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++

	if len(d.sessions) == 0 {
		return nil, errors.New("no more sessions")
	}

	s := d.sessions[0]
	d.sessions = d.sessions[1:]

	if s == nil {
		return nil, errors.New("dial refused")
	}

	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func testStage[S any](state S, pub broker.Publisher) Stage[S] {
	return Stage[S]{State: state, Publisher: pub, Logger: zap.NewNop()}
}

// failures records what reached the failure collaborator.
type failures[In any] struct {
	mu   sync.Mutex
	msgs []In
	errs []error
	fail error
}

func (f *failures[In]) accept(_ context.Context, msg In, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return f.fail
	}

	f.msgs = append(f.msgs, msg)
	f.errs = append(f.errs, err)

	return nil
}

func (f *failures[In]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.msgs)
}
