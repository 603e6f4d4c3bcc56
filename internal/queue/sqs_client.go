package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI is the subset of SQS used by the queue, kept narrow for test fakes.
type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqsSendInput) (string, error)
	ReceiveMessage(ctx context.Context, input *sqsReceiveInput) ([]sqsReceivedMessage, error)
	DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error
	ApproximateDepth(ctx context.Context, queueURL string) (int, error)
}

type sqsSendInput struct {
	QueueURL     string
	MessageBody  string
	DelaySeconds int32
	TaskName     string
}

type sqsReceiveInput struct {
	QueueURL            string
	MaxNumberOfMessages int32
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
}

type sqsReceivedMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// taskNameAttribute is set on every sent message so SQS consoles and
// redrive tooling can filter by task type without decoding the body.
const taskNameAttribute = "task_name"

// awsSQSClient adapts the AWS SDK client to sqsAPI.
type awsSQSClient struct {
	client *sqs.Client
}

func newAWSSQSClient(ctx context.Context, region string) (*awsSQSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &awsSQSClient{client: sqs.NewFromConfig(cfg)}, nil
}

func (c *awsSQSClient) SendMessage(ctx context.Context, input *sqsSendInput) (string, error) {
	in := &sqs.SendMessageInput{
		QueueUrl:     aws.String(input.QueueURL),
		MessageBody:  aws.String(input.MessageBody),
		DelaySeconds: input.DelaySeconds,
	}
	if input.TaskName != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			taskNameAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(input.TaskName),
			},
		}
	}

	out, err := c.client.SendMessage(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (c *awsSQSClient) ReceiveMessage(ctx context.Context, input *sqsReceiveInput) ([]sqsReceivedMessage, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(input.QueueURL),
		MaxNumberOfMessages: input.MaxNumberOfMessages,
		WaitTimeSeconds:     input.WaitTimeSeconds,
		VisibilityTimeout:   input.VisibilityTimeout,
	})
	if err != nil {
		return nil, err
	}

	messages := make([]sqsReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, sqsReceivedMessage{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return messages, nil
}

func (c *awsSQSClient) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

func (c *awsSQSClient) ApproximateDepth(ctx context.Context, queueURL string) (int, error) {
	out, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	if err != nil {
		return 0, fmt.Errorf("parse queue depth: %w", err)
	}
	return n, nil
}
