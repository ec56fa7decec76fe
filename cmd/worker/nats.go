package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"brokercrm-backend/internal/queue"
	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/workerproc"
)

// runNATS joins the classifier queue group and blocks until ctx is done.
// Core NATS has no redelivery, so failed batches stay in status error.
func runNATS(ctx context.Context, wg *sync.WaitGroup, url, subject string, concurrency int, p workerproc.Processor) error {
	conn, err := queue.Connect(url, "brokercrm-worker")
	if err != nil {
		return err
	}
	closed := make(chan struct{})
	var closeOnce sync.Once
	conn.SetClosedHandler(func(*nats.Conn) { closeOnce.Do(func() { close(closed) }) })

	sem := make(chan struct{}, concurrency)
	_, err = conn.QueueSubscribe(subject, queue.QueueGroup, func(m *nats.Msg) {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			handleNATSMessage(context.WithoutCancel(ctx), p, m.Data)
		}()
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("nats subscribe: %w", err)
	}
	log.Printf("worker started transport=nats subject=%s group=%s concurrency=%d", subject, queue.QueueGroup, concurrency)

	<-ctx.Done()
	// Drain is asynchronous; the message callback may still call wg.Add
	// until the connection reports closed.
	if !drainAndWait(conn, closed, drainTimeout) {
		log.Printf("nats drain did not finish within %s", drainTimeout)
	}
	return nil
}

const drainTimeout = 35 * time.Second

type drainer interface {
	Drain() error
}

// drainAndWait starts draining and blocks until closed fires or timeout
// passes. It reports whether the drain completed.
func drainAndWait(d drainer, closed <-chan struct{}, timeout time.Duration) bool {
	if err := d.Drain(); err != nil {
		log.Printf("nats drain: %v", err)
	}
	select {
	case <-closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

func handleNATSMessage(ctx context.Context, p workerproc.Processor, data []byte) {
	err := workerproc.HandleMessage(ctx, p, string(data))
	switch {
	case err == nil:
		metrics.IncWorkerMessage("nats", "processed")
	case workerproc.Unrecoverable(err):
		metrics.IncWorkerMessage("nats", "dropped")
	default:
		metrics.IncWorkerMessage("nats", "failed")
	}
}
