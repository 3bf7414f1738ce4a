package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/TiunovNN/video-compression-model/log"
)

// Handler processes the jobs a consumer pulls off the queue. A returned
// error means the job never reached a terminal task state and the message
// is requeued; task-level failures are recorded against the task instead
// of bouncing the message forever.
type Handler interface {
	HandleAnalyze(ctx context.Context, job AnalyzeJob) error
	HandleTranscode(ctx context.Context, job TranscodeJob) error
}

// Consumer pulls jobs off a durable queue with manual acks. Prefetch
// bounds how many unacked jobs one worker holds; heavy encodes make a
// prefetch of 1 the sensible production setting.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	handler  Handler
}

func NewConsumer(url, queue string, prefetch int, handler Handler) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{url: url, queue: queue, prefetch: prefetch, handler: handler}
}

// Run consumes until ctx is cancelled, reconnecting when the broker
// connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := c.consumeOnce(ctx); err != nil {
			log.LogNoTaskID("consumer disconnected, reconnecting", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, deliveries, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			requeue, err := c.handleDelivery(ctx, d.Type, d.Body)
			if err != nil {
				log.LogNoTaskID("job failed", "job_type", d.Type, "requeue", requeue, "err", err)
				if err := d.Nack(false, requeue); err != nil {
					return err
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) open(ctx context.Context) (*amqp.Connection, <-chan amqp.Delivery, error) {
	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var err error
		conn, err = amqp.Dial(c.url)
		if err != nil {
			log.LogNoTaskID("error connecting to broker", "err", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 5), ctx))
	if err != nil {
		return nil, nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := channel.Qos(c.prefetch, 0, false); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if _, err := channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, err
	}
	deliveries, err := channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, deliveries, nil
}

// handleDelivery validates and dispatches one raw message. Malformed
// messages report requeue=false and are dropped as poison; a handler
// error reports requeue=true so the job survives infrastructure failures.
func (c *Consumer) handleDelivery(ctx context.Context, jobType string, body []byte) (bool, error) {
	if err := ValidateJobPayload(jobType, body); err != nil {
		return false, err
	}
	switch jobType {
	case JobAnalyze:
		var job AnalyzeJob
		if err := json.Unmarshal(body, &job); err != nil {
			return false, err
		}
		return true, c.handler.HandleAnalyze(ctx, job)
	case JobTranscode:
		var job TranscodeJob
		if err := json.Unmarshal(body, &job); err != nil {
			return false, err
		}
		return true, c.handler.HandleTranscode(ctx, job)
	}
	return false, fmt.Errorf("unknown job type %q", jobType)
}
