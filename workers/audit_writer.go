package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"integrator/metrics"
	"integrator/models"
)

// AttemptLogger is the store side of the audit log.
type AttemptLogger interface {
	LogDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// AuditWriter records delivery attempts best-effort. Failures are logged and
// counted, never returned.
type AuditWriter struct {
	logger   AttemptLogger
	timeout  time.Duration
	detached bool
	wg       sync.WaitGroup
}

func NewAuditWriter(logger AttemptLogger, timeout time.Duration, detached bool) *AuditWriter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuditWriter{logger: logger, timeout: timeout, detached: detached}
}

// Record writes attempt. In detached mode it returns immediately and the
// write runs on its own goroutine, unaffected by ctx cancellation.
func (w *AuditWriter) Record(ctx context.Context, attempt *models.DeliveryAttempt) {
	if w == nil || w.logger == nil || attempt == nil {
		return
	}

	if !w.detached {
		w.write(ctx, attempt)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.write(context.Background(), attempt)
	}()
}

// Wait blocks until detached writes in flight have finished.
func (w *AuditWriter) Wait() {
	if w == nil {
		return
	}
	w.wg.Wait()
}

func (w *AuditWriter) write(parent context.Context, attempt *models.DeliveryAttempt) {
	defer func() {
		if r := recover(); r != nil {
			metrics.AuditWriteFailures.Inc()
			log.Printf("audit writer: panic writing attempt: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.timeout)
	defer cancel()

	if err := w.logger.LogDeliveryAttempt(ctx, attempt); err != nil {
		metrics.AuditWriteFailures.Inc()
		log.Printf("audit writer: request_id=%s error: %v", deref(attempt.RequestID), err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
