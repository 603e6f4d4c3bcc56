package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// SQSDLQ keeps dead tasks in a separate SQS queue.
type SQSDLQ struct {
	client   sqsAPI
	dlqURL   string
	enqueuer Enqueuer
	log      zerolog.Logger
}

// NewSQSDLQ creates a new SQSDLQ targeting the given DLQ URL. Reprocess
// re-enqueues through enqueuer.
func NewSQSDLQ(client sqsAPI, dlqURL string, enqueuer Enqueuer, log zerolog.Logger) *SQSDLQ {
	return &SQSDLQ{
		client:   client,
		dlqURL:   dlqURL,
		enqueuer: enqueuer,
		log:      log,
	}
}

// MoveToDLQ sends msg wrapped in a DLQMessage to the dead letter queue.
func (d *SQSDLQ) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	data, err := json.Marshal(DLQMessage{
		OriginalMessage: msg,
		FinalError:      reason,
		MovedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	if _, err := d.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    d.dlqURL,
		MessageBody: string(data),
		TaskName:    msg.Name,
	}); err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}

	DLQMessagesTotal.WithLabelValues(msg.Name).Inc()

	return nil
}

// Reprocess receives up to ten dead letter messages and re-enqueues those
// for taskName whose task id is in taskIDs; an empty taskIDs selects every
// message of that task. SQS cannot address messages by id, so messages that
// do not match become visible again after the visibility timeout.
func (d *SQSDLQ) Reprocess(ctx context.Context, taskName string, taskIDs []string) (int, error) {
	messages, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            d.dlqURL,
		MaxNumberOfMessages: 10,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive from dlq: %w", err)
	}

	reprocessed := 0
	for _, sqsMsg := range messages {
		var dlqMsg DLQMessage
		if err := json.Unmarshal([]byte(sqsMsg.Body), &dlqMsg); err != nil || dlqMsg.OriginalMessage == nil {
			d.log.Warn().Err(err).Str("sqs_message_id", sqsMsg.MessageID).Msg("skipping malformed dlq message")
			continue
		}
		orig := dlqMsg.OriginalMessage
		if orig.Name != taskName || (len(taskIDs) > 0 && !slices.Contains(taskIDs, orig.ID)) {
			continue
		}

		orig.RetryCount = 0
		if _, err := d.enqueuer.Enqueue(ctx, orig); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue task %s: %w", orig.ID, err)
		}

		if err := d.client.DeleteMessage(ctx, d.dlqURL, sqsMsg.ReceiptHandle); err != nil {
			return reprocessed, fmt.Errorf("delete dlq message: %w", err)
		}

		reprocessed++
	}

	return reprocessed, nil
}
