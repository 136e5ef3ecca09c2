package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	applog "expensetracker/internal/log"
	"expensetracker/internal/tools"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp091.Channel the client uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Close() error
}

// ToolCaller runs a named tool call.
type ToolCaller interface {
	Call(ctx context.Context, name string, args tools.Args) (any, error)
}

// Client publishes expense change events on a topic exchange and serves
// tool calls from an RPC queue.
type Client struct {
	conn         *amqp091.Connection
	channel      channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      ch,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Requests can arrive through the exchange or the default exchange.
	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// One request at a time keeps calls in arrival order.
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	return nil
}

// PublishExpenseChanged announces a committed write as expense.<operation>.
func (c *Client) PublishExpenseChanged(ctx context.Context, id int64, operation string) error {
	msg := NewExpenseChangedMessage(id, operation)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName,   // exchange
		msg.RoutingKey(), // routing key
		false,            // mandatory
		false,            // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	applog.FromContext(ctx).WithComponent(applog.ComponentAMQP).DebugContext(ctx, "Published expense change",
		append(applog.NewFields().WithOperation(operation).WithExpenseID(id).ToSlice(),
			"exchange", c.exchangeName)...)

	return nil
}

// ServeToolCalls consumes the RPC queue until ctx is done. Each request is
// answered on its ReplyTo queue with the same CorrelationId.
func (c *Client) ServeToolCalls(ctx context.Context, caller ToolCaller) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	logger := applog.FromContext(ctx).WithComponent(applog.ComponentAMQP)
	logger.InfoContext(ctx, "Serving tool calls", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Stopping tool call consumption", "reason", ctx.Err())
			return nil
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, delivery, caller)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, caller ToolCaller) {
	requestID := d.CorrelationId
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := applog.FromContext(ctx).
		WithComponent(applog.ComponentAMQP).
		With(applog.NewFields().WithRequestID(requestID).ToSlice()...).
		With(applog.FieldTransport, "amqp")
	ctx = applog.IntoContext(ctx, logger)

	var reply any
	req, err := ToolCallRequestFromJSON(d.Body)
	if err != nil {
		logger.WarnContext(ctx, "Rejected malformed tool call",
			applog.NewFields().WithError(err, applog.ErrorTypeBadRequest).ToSlice()...)
		reply = tools.ErrorPayload{
			Status:  tools.StatusError,
			Error:   applog.ErrorTypeBadRequest,
			Message: err.Error(),
		}
	} else {
		result, callErr := caller.Call(ctx, req.Tool, tools.Args(req.Arguments))
		if callErr != nil {
			reply = tools.Fault(callErr)
		} else {
			reply = result
		}
	}

	if d.ReplyTo == "" {
		logger.WarnContext(ctx, "Tool call has no reply queue, dropping result")
	} else if err := c.reply(ctx, d, reply); err != nil {
		logger.ErrorContext(ctx, "Failed to publish tool call reply",
			applog.NewFields().WithError(err, applog.ErrorTypeInternal).ToSlice()...)
		// Requeue so the caller still gets an answer.
		if err := d.Nack(false, true); err != nil {
			logger.ErrorContext(ctx, "Failed to nack delivery", "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logger.ErrorContext(ctx, "Failed to ack delivery", "error", err)
	}
}

func (c *Client) reply(ctx context.Context, d amqp091.Delivery, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		// Requeueing would fail the same way on every redelivery.
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to encode tool call reply",
			applog.NewFields().WithError(err, applog.ErrorTypeInternal).ToSlice()...)
		body, _ = json.Marshal(tools.ErrorPayload{
			Status:  tools.StatusError,
			Error:   applog.ErrorTypeInternal,
			Message: "failed to encode response",
		})
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return c.channel.PublishWithContext(
		ctx,
		"",        // default exchange routes by queue name
		d.ReplyTo, // routing key
		false,
		false,
		amqp091.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			MessageId:     uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			Body:          body,
		},
	)
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
