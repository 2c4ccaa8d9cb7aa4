package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"routeopt/internal/metrics"
	"routeopt/internal/store"
)

type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	PollEvery   time.Duration
	Log         *zap.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewWorker(s store.Store, maxAttempts int, pollEvery time.Duration, log *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		PollEvery:   pollEvery,
		Log:         log,
		stop:        make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.PollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

// Close stops the polling loop and waits for the current batch to finish.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		w.Log.Warn("fetch webhook deliveries", zap.Error(err))
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	success := false
	next := time.Now().Add(nextBackoff(it.Attempts))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
		w.observe(it.EventType, store.DeliveryFailed, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Id", it.ID)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	if err == nil && resp != nil {
		code = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if code >= 200 && code < 300 {
			success = true
		}
	}
	lastErr := ""
	if !success {
		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = "status " + strconv.Itoa(code)
		}
	}
	if !success && it.Attempts+1 >= w.MaxAttempts {
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			w.Log.Warn("fail webhook delivery", zap.String("delivery", it.ID), zap.Error(err))
		}
		w.Log.Warn("webhook delivery dead-lettered", zap.String("delivery", it.ID), zap.String("event", it.EventType), zap.String("error", lastErr))
		w.observe(it.EventType, store.DeliveryFailed, latency)
		return
	}
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
		w.Log.Warn("mark webhook delivery", zap.String("delivery", it.ID), zap.Error(err))
	}
	if success {
		w.observe(it.EventType, store.DeliveryDelivered, latency)
	} else {
		w.observe(it.EventType, store.DeliveryRetry, latency)
	}
}

func (w *Worker) observe(eventType, status string, latencyMs int) {
	metrics.WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latencyMs))
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
