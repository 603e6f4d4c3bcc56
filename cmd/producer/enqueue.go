package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/sungwon/enroll-notify/internal/enrollment"
	"github.com/sungwon/enroll-notify/internal/producer"
	"github.com/sungwon/enroll-notify/internal/queue"
)

var (
	userName string
	waitFor  time.Duration

	customTo      string
	customSubject string
	customText    string
	customHTML    string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <course_name> <user_id> <email>",
	Short: "Enqueue a course enrollment confirmation email",
	Args:  cobra.ExactArgs(3),
	RunE:  runEnqueue,
}

var enqueueCustomCmd = &cobra.Command{
	Use:   "enqueue-custom",
	Short: "Enqueue a custom email",
	Args:  cobra.NoArgs,
	RunE:  runEnqueueCustom,
}

func init() {
	enqueueCmd.Flags().StringVar(&userName, "name", "", "learner name used in the greeting")
	enqueueCmd.Flags().DurationVar(&waitFor, "wait", 0, "wait up to this long for the task result")

	enqueueCustomCmd.Flags().StringVar(&customTo, "to", "", "recipient address")
	enqueueCustomCmd.Flags().StringVar(&customSubject, "subject", "", "message subject")
	enqueueCustomCmd.Flags().StringVar(&customText, "text", "", "plain text body")
	enqueueCustomCmd.Flags().StringVar(&customHTML, "html", "", "optional HTML body")
	enqueueCustomCmd.Flags().DurationVar(&waitFor, "wait", 0, "wait up to this long for the task result")
	for _, name := range []string{"to", "subject", "text"} {
		_ = enqueueCustomCmd.MarkFlagRequired(name)
	}
}

type enqueueOutput struct {
	TaskID   string        `json:"task_id"`
	TaskName string        `json:"task_name"`
	Result   *queue.Result `json:"result,omitempty"`
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	return withProducer(cmd, enrollment.TaskSendCourseEnrollmentEmail, func(ctx context.Context, p *producer.Producer) (string, error) {
		return p.Enqueue(ctx, producer.EnrollmentRequest{
			CourseName: args[0],
			UserID:     args[1],
			Email:      args[2],
			UserName:   userName,
		})
	})
}

func runEnqueueCustom(cmd *cobra.Command, args []string) error {
	return withProducer(cmd, enrollment.TaskSendCustomEmail, func(ctx context.Context, p *producer.Producer) (string, error) {
		return p.EnqueueCustom(ctx, enrollment.CustomEmail{
			To:           customTo,
			Subject:      customSubject,
			PlainContent: customText,
			HTMLContent:  customHTML,
		})
	})
}

// withProducer builds a producer, runs enqueue and prints the task id,
// optionally waiting for the result.
func withProducer(cmd *cobra.Command, taskName string, enqueue func(context.Context, *producer.Producer) (string, error)) error {
	ctx := cmd.Context()

	enqueuer, closeQueue, err := openEnqueuer(ctx)
	if err != nil {
		return err
	}
	defer closeQueue()

	results, closeResults := openResults()
	defer closeResults()

	taskID, err := enqueue(ctx, producer.New(enqueuer, results, log))
	if err != nil {
		return err
	}

	out := enqueueOutput{TaskID: taskID, TaskName: taskName}
	if waitFor > 0 {
		res, err := waitResult(ctx, results, taskID, waitFor)
		if err != nil && res == nil {
			return err
		}
		out.Result = res
	}
	return printJSON(cmd, out)
}

func waitResult(ctx context.Context, results queue.ResultBackend, taskID string, d time.Duration) (*queue.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	res, err := queue.WaitForResult(ctx, results, taskID, 250*time.Millisecond)
	if errors.Is(err, context.DeadlineExceeded) {
		if res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("no result for %s after %s", taskID, d)
	}
	return res, err
}
