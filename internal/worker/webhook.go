package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/errors"
)

// webhookPayload is the completion callback body.
type webhookPayload struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// DeliverWebhook posts the job outcome to the caller's webhook URL. The
// configured attempt budget is spent inside one queue message; exhausting it
// acknowledges the message so a dead endpoint cannot wedge the queue.
func (w *Worker) DeliverWebhook(ctx context.Context, jobID string) error {
	job, err := w.store.GetJob(ctx, jobID, false)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.WebhookURL == "" || job.WebhookSent {
		return nil
	}

	payload := webhookPayload{
		JobID:       job.ID,
		Status:      job.Status,
		ErrorCode:   job.ErrorCode,
		Error:       job.ErrorMessage,
		CompletedAt: job.CompletedAt,
	}
	if job.Status == datastore.JobStatusCompleted && job.Result != "" {
		payload.Result = json.RawMessage(job.Result)
	}

	body, err := json.Marshal(&payload)
	if err != nil {
		return errors.New(err).Component("worker").Category(errors.CategoryGeneric).Build()
	}

	maxAttempts := w.settings.Webhook.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	client := &http.Client{
		Timeout: time.Duration(w.settings.Webhook.TimeoutSeconds) * time.Second,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = w.postWebhook(ctx, client, job.WebhookURL, body)
		if lastErr == nil {
			if w.metrics != nil {
				w.metrics.Pipeline.RecordWebhook("success")
			}
			return w.store.MarkWebhookSent(ctx, jobID)
		}
		w.logger.Warn("webhook delivery attempt failed",
			"job_id", jobID, "attempt", attempt+1, "error", lastErr)
	}

	if w.metrics != nil {
		w.metrics.Pipeline.RecordWebhook("failed")
	}
	w.logger.Error("webhook delivery abandoned", "job_id", jobID,
		"attempts", maxAttempts, "error", lastErr)
	return nil
}

func (w *Worker) postWebhook(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hyescribe-webhook/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
