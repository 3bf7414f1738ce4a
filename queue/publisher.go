package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/TiunovNN/video-compression-model/log"
)

// Publisher enqueues worker jobs.
type Publisher interface {
	PublishAnalyze(ctx context.Context, job AnalyzeJob) error
	PublishTranscode(ctx context.Context, job TranscodeJob) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages onto a single durable
// queue, reconnecting on a broken channel.
type AMQPPublisher struct {
	url   string
	queue string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, queue: queue}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials the broker and declares the queue, retrying for a while
// so that a broker restart does not take the service down with it.
func (p *AMQPPublisher) connect() error {
	return backoff.Retry(func() error {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			log.LogNoTaskID("error connecting to broker", "err", err)
			return err
		}
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return err
		}
		if _, err := channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return err
		}
		p.conn = conn
		p.channel = channel
		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 5))
}

func (p *AMQPPublisher) PublishAnalyze(ctx context.Context, job AnalyzeJob) error {
	return p.publish(ctx, JobAnalyze, job)
}

func (p *AMQPPublisher) PublishTranscode(ctx context.Context, job TranscodeJob) error {
	return p.publish(ctx, JobTranscode, job)
}

func (p *AMQPPublisher) publish(ctx context.Context, jobType string, job interface{}) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshalling %s job: %w", jobType, err)
	}
	if err := ValidateJobPayload(jobType, body); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.send(ctx, jobType, body)
	if err == nil {
		return nil
	}
	// One reconnect attempt covers the common broker-restart case.
	log.LogNoTaskID("republishing after broker error", "job_type", jobType, "err", err)
	if err := p.connect(); err != nil {
		return err
	}
	return p.send(ctx, jobType, body)
}

func (p *AMQPPublisher) send(ctx context.Context, jobType string, body []byte) error {
	return p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         jobType,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
