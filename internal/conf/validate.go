// conf/validate.go settings validation
package conf

import (
	"fmt"
	"strings"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// ValidateSettings checks the loaded settings for values the pipeline
// cannot operate with. It returns the first failure found.
func ValidateSettings(settings *Settings) error {
	if err := validateChunking(&settings.Chunking); err != nil {
		return err
	}
	if err := validateRetry(&settings.Retry); err != nil {
		return err
	}
	if err := validateProviders(&settings.Providers); err != nil {
		return err
	}
	if err := validateJobStore(&settings.JobStore); err != nil {
		return err
	}
	if err := validateObjectStore(&settings.ObjectStore); err != nil {
		return err
	}
	if err := validateQueue(&settings.Queue); err != nil {
		return err
	}
	return nil
}

func validateChunking(c *ChunkingSettings) error {
	if c.MaxChunkDuration <= 0 {
		return configError("chunking.maxchunkduration must be positive, got %v", c.MaxChunkDuration)
	}
	if c.OverlapDuration < 0 {
		return configError("chunking.overlapduration cannot be negative, got %v", c.OverlapDuration)
	}
	if c.OverlapDuration >= c.MaxChunkDuration {
		return configError("chunking.overlapduration (%v) must be smaller than maxchunkduration (%v)",
			c.OverlapDuration, c.MaxChunkDuration)
	}
	if c.OverlapSimilarityThreshold < 0 || c.OverlapSimilarityThreshold > 1 {
		return configError("chunking.overlapsimilaritythreshold must be in [0,1], got %v", c.OverlapSimilarityThreshold)
	}
	if c.ContextSegments < 0 {
		return configError("chunking.contextsegments cannot be negative, got %d", c.ContextSegments)
	}
	return nil
}

func validateRetry(r *RetrySettings) error {
	if r.MaxRetries < 0 {
		return configError("retry.maxretries cannot be negative, got %d", r.MaxRetries)
	}
	if r.BaseDelay <= 0 {
		return configError("retry.basedelay must be positive, got %v", r.BaseDelay)
	}
	if r.MaxDelay < r.BaseDelay {
		return configError("retry.maxdelay (%v) must be >= basedelay (%v)", r.MaxDelay, r.BaseDelay)
	}
	if r.ExponentialBase <= 1 {
		return configError("retry.exponentialbase must be > 1, got %v", r.ExponentialBase)
	}
	if r.JitterMax < 0 {
		return configError("retry.jittermax cannot be negative, got %v", r.JitterMax)
	}
	return nil
}

func validateProviders(p *ProvidersSettings) error {
	known := []string{"gemini", "whisper", "elevenlabs", "hispeech", "wavam"}
	found := false
	for _, name := range known {
		if name == p.Default {
			found = true
			break
		}
	}
	if !found {
		return configError("providers.default %q is not one of %s", p.Default, strings.Join(known, ", "))
	}

	for _, name := range known {
		settings := settingsFor(p, name)
		if !settings.Enabled {
			continue
		}
		if settings.RPM <= 0 {
			return configError("providers.%s.rpm must be positive, got %d", name, settings.RPM)
		}
		if settings.TimeoutSeconds <= 0 {
			return configError("providers.%s.timeoutseconds must be positive, got %d", name, settings.TimeoutSeconds)
		}
	}
	return nil
}

func settingsFor(p *ProvidersSettings, name string) *ProviderSettings {
	switch name {
	case "gemini":
		return &p.Gemini
	case "whisper":
		return &p.Whisper
	case "elevenlabs":
		return &p.ElevenLabs
	case "hispeech":
		return &p.HiSpeech
	default:
		return &p.WavAm
	}
}

func validateJobStore(j *JobStoreSettings) error {
	if j.SQLite.Enabled && j.MySQL.Enabled {
		return configError("jobstore: sqlite and mysql cannot both be enabled")
	}
	if !j.SQLite.Enabled && !j.MySQL.Enabled {
		return configError("jobstore: no store enabled")
	}
	if j.SQLite.Enabled && j.SQLite.Path == "" {
		return configError("jobstore.sqlite.path cannot be empty")
	}
	if j.MySQL.Enabled && (j.MySQL.Host == "" || j.MySQL.Database == "") {
		return configError("jobstore.mysql requires host and database")
	}
	return nil
}

func validateObjectStore(o *ObjectStoreSettings) error {
	switch o.Backend {
	case "disk":
		if o.Disk.Path == "" {
			return configError("objectstore.disk.path cannot be empty")
		}
	case "sftp":
		if o.SFTP.Host == "" {
			return configError("objectstore.sftp.host cannot be empty")
		}
	case "ftp":
		if o.FTP.Host == "" {
			return configError("objectstore.ftp.host cannot be empty")
		}
	default:
		return configError("objectstore.backend %q is not one of disk, sftp, ftp", o.Backend)
	}
	return nil
}

func validateQueue(q *QueueSettings) error {
	if q.Addr == "" {
		return configError("queue.addr cannot be empty")
	}
	if q.Concurrency <= 0 {
		return configError("queue.concurrency must be positive, got %d", q.Concurrency)
	}
	if q.TranscriptionQueue == "" || q.WebhookQueue == "" {
		return configError("queue names cannot be empty")
	}
	return nil
}

func configError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("configuration").
		Category(errors.CategoryConfiguration).
		Build()
}

// Sanitized returns a copy of the settings with secrets blanked, suitable
// for support dumps and debug logging.
func (s *Settings) Sanitized() Settings {
	c := *s
	scrub := func(p *ProviderSettings) ProviderSettings {
		out := *p
		if out.APIKey != "" {
			out.APIKey = "[redacted]"
		}
		return out
	}
	c.Providers.Gemini = scrub(&s.Providers.Gemini)
	c.Providers.Whisper = scrub(&s.Providers.Whisper)
	c.Providers.ElevenLabs = scrub(&s.Providers.ElevenLabs)
	c.Providers.HiSpeech = scrub(&s.Providers.HiSpeech)
	c.Providers.WavAm = scrub(&s.Providers.WavAm)
	if c.JobStore.MySQL.Password != "" {
		c.JobStore.MySQL.Password = "[redacted]"
	}
	if c.ObjectStore.SFTP.Password != "" {
		c.ObjectStore.SFTP.Password = "[redacted]"
	}
	if c.ObjectStore.FTP.Password != "" {
		c.ObjectStore.FTP.Password = "[redacted]"
	}
	if c.Queue.Password != "" {
		c.Queue.Password = "[redacted]"
	}
	if c.Sentry.DSN != "" {
		c.Sentry.DSN = "[redacted]"
	}
	c.Notify.URLs = make([]string, len(s.Notify.URLs))
	for i := range s.Notify.URLs {
		c.Notify.URLs[i] = fmt.Sprintf("[redacted-url-%d]", i)
	}
	return c
}
