// Package notify pushes operator notifications for terminal job states
// through shoutrrr service URLs.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/logging"
)

// Notifier delivers short operator messages. A disabled or empty
// configuration produces a no-op notifier so callers never nil-check.
type Notifier struct {
	sender *router.ServiceRouter
	logger *slog.Logger
}

// New builds a notifier from the notify settings.
func New(settings *conf.NotifySettings) (*Notifier, error) {
	logger := logging.ForService("notify")
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{logger: logger}

	if !settings.Enabled || len(settings.URLs) == 0 {
		return n, nil
	}

	sender, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification URL: %w", err)
	}
	n.sender = sender
	return n, nil
}

// JobCompleted announces a successful job.
func (n *Notifier) JobCompleted(jobID, providerName string, durationSeconds float64) {
	n.send("Transcription completed",
		fmt.Sprintf("Job %s finished via %s (%.0fs of audio).", jobID, providerName, durationSeconds))
}

// JobFailed announces a failed job with its user-facing error.
func (n *Notifier) JobFailed(jobID, errorCode, message string) {
	n.send("Transcription failed",
		fmt.Sprintf("Job %s failed (%s): %s", jobID, errorCode, message))
}

// StaleJobsRecovered announces startup recovery of interrupted jobs.
func (n *Notifier) StaleJobsRecovered(count int64) {
	if count == 0 {
		return
	}
	n.send("Stale jobs recovered",
		fmt.Sprintf("%d interrupted job(s) were marked failed after a restart.", count))
}

func (n *Notifier) send(title, body string) {
	if n.sender == nil {
		return
	}
	params := stypes.Params{}
	params.SetTitle(title)

	errs := n.sender.Send(body, &params)
	var failed []string
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		n.logger.Warn("notification delivery partially failed", "errors", strings.Join(failed, "; "))
	}
}
