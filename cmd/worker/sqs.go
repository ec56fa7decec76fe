package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/workerproc"
)

type sqsOptions struct {
	region            string
	queueURL          string
	visibilitySeconds int
	concurrency       int
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// runSQS long-polls until ctx is done. In-flight handlers are tracked in wg.
func runSQS(ctx context.Context, wg *sync.WaitGroup, opts sqsOptions, p workerproc.Processor) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	var client sqsAPI = sqs.NewFromConfig(awsCfg)

	sem := make(chan struct{}, opts.concurrency)
	log.Printf("worker started transport=sqs queue=%s concurrency=%d visibility=%ds", opts.queueURL, opts.concurrency, opts.visibilitySeconds)

	for {
		if ctx.Err() != nil {
			return nil
		}
		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(opts.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(opts.visibilitySeconds),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				return nil
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleSQSMessage(context.WithoutCancel(ctx), client, opts.queueURL, p, m)
			}(msg)
		}
	}
}

// handleSQSMessage deletes the message when it was processed or can never
// succeed; otherwise it is left for redelivery after the visibility timeout.
func handleSQSMessage(ctx context.Context, client sqsAPI, queueURL string, p workerproc.Processor, msg sqstypes.Message) {
	err := workerproc.HandleMessage(ctx, p, aws.ToString(msg.Body))
	switch {
	case err == nil:
		metrics.IncWorkerMessage("sqs", "processed")
	case workerproc.Unrecoverable(err):
		metrics.IncWorkerMessage("sqs", "dropped")
	default:
		metrics.IncWorkerMessage("sqs", "failed")
		fields := sqsFields(msg)
		fields["error"] = err
		telemetry.Warn("worker.sqs.redeliver", fields)
		return
	}
	deleteMessage(ctx, client, queueURL, msg)
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := sqsFields(msg)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.sqs.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := sqsFields(msg)
		fields["error"] = err
		telemetry.Error("worker.sqs.delete_failed", fields)
		return false
	}
	return true
}

func sqsFields(msg sqstypes.Message) map[string]any {
	return map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
}

func receiveCount(msg sqstypes.Message) int {
	raw := strings.TrimSpace(msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)])
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
