package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// DispatchJob is the payload the server and scheduler hand to workers.
type DispatchJob struct {
	CampaignID int `json:"campaign_id"`
}

// Publisher enqueues dispatch jobs for the worker fleet.
type Publisher interface {
	PublishDispatch(campaignID int) error
	Close() error
}

// AMQPPublisher publishes dispatch jobs onto a durable RabbitMQ queue.
type AMQPPublisher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

func NewAMQPPublisher(url, queueName string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, queueName: queueName}, nil
}

func (p *AMQPPublisher) PublishDispatch(campaignID int) error {
	body, err := json.Marshal(DispatchJob{CampaignID: campaignID})
	if err != nil {
		return err
	}
	return p.channel.Publish(
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// RetryHeaderName carries how many times a job has been re-published after a
// failed run.
const RetryHeaderName = "x-retry-count"

// RetryCount reads the redelivery counter from message headers. AMQP clients
// may hand the number back as any integer width.
func RetryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[RetryHeaderName].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// RetryPublishing builds the republished copy of a failed delivery with the
// retry counter bumped. Requeueing the original delivery would keep its old
// headers, so the counter would never move.
func RetryPublishing(d amqp.Delivery) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeaderName] = int32(RetryCount(d.Headers) + 1)
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	}
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

var _ Publisher = (*AMQPPublisher)(nil)

// InMemoryPublisher collects jobs for tests.
type InMemoryPublisher struct {
	mu   sync.Mutex
	Jobs []DispatchJob
}

func (p *InMemoryPublisher) PublishDispatch(campaignID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Jobs = append(p.Jobs, DispatchJob{CampaignID: campaignID})
	return nil
}

func (p *InMemoryPublisher) Close() error { return nil }

var _ Publisher = (*InMemoryPublisher)(nil)
