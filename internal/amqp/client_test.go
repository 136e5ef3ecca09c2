package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"expensetracker/internal/core"
	"expensetracker/internal/tools"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	deliveries chan amqp091.Delivery
	exchanges  map[string]string
	queues     []string
	bindings   []string
	prefetch   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		deliveries: make(chan amqp091.Delivery, 8),
		exchanges:  make(map[string]string),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	f.queues = append(f.queues, name)
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp091.Table) error {
	f.bindings = append(f.bindings, fmt.Sprintf("%s:%s:%s", exchange, key, name))
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Consume(_, _ string, _, _, _, _ bool, _ amqp091.Table) (<-chan amqp091.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.published))
	copy(out, f.published)
	return out
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

type fakeCaller struct {
	name string
	args tools.Args
	res  any
	err  error
}

func (c *fakeCaller) Call(_ context.Context, name string, args tools.Args) (any, error) {
	c.name, c.args = name, args
	return c.res, c.err
}

func newTestClient(ch *fakeChannel) *Client {
	return &Client{channel: ch, exchangeName: "expenses", queueName: "expense_tools"}
}

func TestClient_Setup(t *testing.T) {
	ch := newFakeChannel()
	if err := newTestClient(ch).setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if ch.exchanges["expenses"] != "topic" {
		t.Errorf("exchange kinds = %v, want topic", ch.exchanges)
	}
	if len(ch.queues) != 1 || ch.queues[0] != "expense_tools" {
		t.Errorf("queues = %v", ch.queues)
	}
	if len(ch.bindings) != 1 || ch.bindings[0] != "expenses:expense_tools:expense_tools" {
		t.Errorf("bindings = %v", ch.bindings)
	}
	if ch.prefetch != 1 {
		t.Errorf("prefetch = %d, want 1", ch.prefetch)
	}
}

func TestClient_PublishExpenseChanged(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(ch)

	if err := c.PublishExpenseChanged(context.Background(), 7, "credit"); err != nil {
		t.Fatalf("PublishExpenseChanged: %v", err)
	}

	msgs := ch.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.exchange != "expenses" || got.key != "expense.credit" {
		t.Errorf("published to %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp091.Persistent || got.msg.MessageId == "" {
		t.Errorf("unexpected publishing %+v", got.msg)
	}

	var msg ExpenseChangedMessage
	if err := json.Unmarshal(got.msg.Body, &msg); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.ID != 7 || msg.Operation != "credit" || msg.Timestamp.IsZero() {
		t.Errorf("message = %+v", msg)
	}
}

func TestClient_PublishError(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")

	err := newTestClient(ch).PublishExpenseChanged(context.Background(), 1, "add")
	if err == nil {
		t.Fatal("expected publish error")
	}
}

func TestClient_HandleDelivery(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		caller     *fakeCaller
		wantTool   string
		wantStatus string
		wantError  string
	}{
		{
			name:       "successful call",
			body:       `{"tool":"delete_expense","arguments":{"expense_id":3}}`,
			caller:     &fakeCaller{res: tools.MutationResult{Status: tools.StatusDeleted, ID: 3, Affected: 1}},
			wantTool:   "delete_expense",
			wantStatus: tools.StatusDeleted,
		},
		{
			name:       "malformed body",
			body:       `{"tool":`,
			caller:     &fakeCaller{},
			wantStatus: tools.StatusError,
			wantError:  "bad_request",
		},
		{
			name:       "missing tool name",
			body:       `{"arguments":{}}`,
			caller:     &fakeCaller{},
			wantStatus: tools.StatusError,
			wantError:  "bad_request",
		},
		{
			name:       "storage failure",
			body:       `{"tool":"list_expenses","arguments":{}}`,
			caller:     &fakeCaller{err: fmt.Errorf("%w: disk I/O error", core.ErrStorageUnavailable)},
			wantTool:   "list_expenses",
			wantStatus: tools.StatusError,
			wantError:  "storage_unavailable",
		},
		{
			name:       "unknown tool",
			body:       `{"tool":"drop_table"}`,
			caller:     &fakeCaller{err: fmt.Errorf("%w: drop_table", tools.ErrUnknownTool)},
			wantTool:   "drop_table",
			wantStatus: tools.StatusError,
			wantError:  "unknown_tool",
		},
		{
			name:       "unencodable result",
			body:       `{"tool":"summarize","arguments":{}}`,
			caller:     &fakeCaller{res: []core.CategoryTotal{{Category: "Food", TotalAmount: math.Inf(1)}}},
			wantTool:   "summarize",
			wantStatus: tools.StatusError,
			wantError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			c := newTestClient(ch)
			ack := &fakeAcknowledger{}

			c.handleDelivery(context.Background(), amqp091.Delivery{
				Acknowledger:  ack,
				ReplyTo:       "amq.rabbitmq.reply-to",
				CorrelationId: "corr-1",
				Body:          []byte(tt.body),
			}, tt.caller)

			if tt.caller.name != tt.wantTool {
				t.Errorf("called tool %q, want %q", tt.caller.name, tt.wantTool)
			}
			if ack.acks != 1 || ack.nacks != 0 {
				t.Errorf("acks = %d, nacks = %d", ack.acks, ack.nacks)
			}

			msgs := ch.messages()
			if len(msgs) != 1 {
				t.Fatalf("published %d replies, want 1", len(msgs))
			}
			reply := msgs[0]
			if reply.exchange != "" || reply.key != "amq.rabbitmq.reply-to" || reply.msg.CorrelationId != "corr-1" {
				t.Errorf("reply routed to %q/%q with correlation %q", reply.exchange, reply.key, reply.msg.CorrelationId)
			}

			var body map[string]any
			if err := json.Unmarshal(reply.msg.Body, &body); err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("reply status = %v, want %s", body["status"], tt.wantStatus)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Errorf("reply error = %v, want %s", body["error"], tt.wantError)
			}
		})
	}
}

func TestClient_HandleDeliveryKeepsNumbers(t *testing.T) {
	ch := newFakeChannel()
	caller := &fakeCaller{res: tools.AddResult{Status: tools.StatusOK, ID: 1}}

	newTestClient(ch).handleDelivery(context.Background(), amqp091.Delivery{
		Acknowledger: &fakeAcknowledger{},
		ReplyTo:      "replies",
		Body:         []byte(`{"tool":"add_expense","arguments":{"amount":10.10,"date":"2024-01-01","category":"Food"}}`),
	}, caller)

	if caller.args["amount"] != json.Number("10.10") {
		t.Fatalf("amount = %#v, want json.Number", caller.args["amount"])
	}
}

func TestClient_HandleDeliveryReplyFailureRequeues(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	ack := &fakeAcknowledger{}

	newTestClient(ch).handleDelivery(context.Background(), amqp091.Delivery{
		Acknowledger: ack,
		ReplyTo:      "replies",
		Body:         []byte(`{"tool":"list_expenses"}`),
	}, &fakeCaller{res: []core.Expense{}})

	if ack.acks != 0 || ack.nacks != 1 || !ack.requeue {
		t.Fatalf("acks = %d, nacks = %d, requeue = %v", ack.acks, ack.nacks, ack.requeue)
	}
}

func TestClient_ServeToolCalls(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(ch)
	caller := &fakeCaller{res: tools.AddResult{Status: tools.StatusOK, ID: 1}}
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.ServeToolCalls(ctx, caller) }()

	ch.deliveries <- amqp091.Delivery{
		Acknowledger: ack,
		ReplyTo:      "replies",
		Body:         []byte(`{"tool":"add_expense","arguments":{}}`),
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ch.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("ServeToolCalls returned %v", err)
	}
	if len(ch.messages()) != 1 {
		t.Fatalf("expected one reply, got %d", len(ch.messages()))
	}
}

func TestClient_ServeToolCallsChannelClosed(t *testing.T) {
	ch := newFakeChannel()
	close(ch.deliveries)

	if err := newTestClient(ch).ServeToolCalls(context.Background(), &fakeCaller{}); err == nil {
		t.Fatal("expected error when the delivery channel closes")
	}
}
