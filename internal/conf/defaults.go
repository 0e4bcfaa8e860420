// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "hyescribe")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/hyescribe.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("chunking.maxchunkduration", 600.0)
	viper.SetDefault("chunking.overlapduration", 3.0)
	viper.SetDefault("chunking.overlapsimilaritythreshold", 0.8)
	viper.SetDefault("chunking.contextsegments", 3)
	viper.SetDefault("chunking.silencesplit", true)
	viper.SetDefault("chunking.minsilenceduration", 0.5)
	viper.SetDefault("chunking.silencethresholddb", -40)

	viper.SetDefault("retry.maxretries", 5)
	viper.SetDefault("retry.basedelay", 1.0)
	viper.SetDefault("retry.maxdelay", 60.0)
	viper.SetDefault("retry.exponentialbase", 2.0)
	viper.SetDefault("retry.jittermax", 1.0)

	viper.SetDefault("providers.default", "gemini")

	viper.SetDefault("providers.gemini.enabled", true)
	viper.SetDefault("providers.gemini.baseurl", "https://generativelanguage.googleapis.com")
	viper.SetDefault("providers.gemini.model", "gemini-3-flash")
	viper.SetDefault("providers.gemini.rpm", 60)
	viper.SetDefault("providers.gemini.timeoutseconds", 180)
	viper.SetDefault("providers.gemini.maxtokens", 16384)
	viper.SetDefault("providers.gemini.temperature", 1.0)

	viper.SetDefault("providers.whisper.enabled", true)
	viper.SetDefault("providers.whisper.baseurl", "https://api.openai.com/v1")
	viper.SetDefault("providers.whisper.model", "whisper-1")
	viper.SetDefault("providers.whisper.rpm", 50)
	viper.SetDefault("providers.whisper.timeoutseconds", 180)

	viper.SetDefault("providers.elevenlabs.enabled", true)
	viper.SetDefault("providers.elevenlabs.baseurl", "https://api.elevenlabs.io/v1")
	viper.SetDefault("providers.elevenlabs.model", "scribe_v1")
	viper.SetDefault("providers.elevenlabs.rpm", 100)
	viper.SetDefault("providers.elevenlabs.timeoutseconds", 180)

	viper.SetDefault("providers.hispeech.enabled", true)
	viper.SetDefault("providers.hispeech.baseurl", "https://api.hispeech.ai")
	viper.SetDefault("providers.hispeech.rpm", 60)
	viper.SetDefault("providers.hispeech.timeoutseconds", 300)

	viper.SetDefault("providers.wavam.enabled", true)
	viper.SetDefault("providers.wavam.baseurl", "https://api.wav.am")
	viper.SetDefault("providers.wavam.rpm", 30)
	viper.SetDefault("providers.wavam.timeoutseconds", 300)

	viper.SetDefault("upload.maxsizemb", 500)
	viper.SetDefault("upload.audioformats", []string{
		"mp3", "wav", "m4a", "flac", "ogg", "webm", "aac", "wma", "opus",
	})
	viper.SetDefault("upload.videoformats", []string{
		"mp4", "mov", "avi", "mkv",
	})

	viper.SetDefault("scratch.dir", "")
	viper.SetDefault("scratch.minfreefactor", 3.0)

	viper.SetDefault("jobstore.debug", false)
	viper.SetDefault("jobstore.sqlite.enabled", true)
	viper.SetDefault("jobstore.sqlite.path", "hyescribe.db")
	viper.SetDefault("jobstore.mysql.enabled", false)
	viper.SetDefault("jobstore.mysql.username", "hyescribe")
	viper.SetDefault("jobstore.mysql.password", "secret")
	viper.SetDefault("jobstore.mysql.database", "hyescribe")
	viper.SetDefault("jobstore.mysql.host", "localhost")
	viper.SetDefault("jobstore.mysql.port", "3306")

	viper.SetDefault("objectstore.backend", "disk")
	viper.SetDefault("objectstore.disk.path", "objects/")
	viper.SetDefault("objectstore.sftp.port", "22")
	viper.SetDefault("objectstore.ftp.port", "21")

	viper.SetDefault("queue.addr", "localhost:6379")
	viper.SetDefault("queue.db", 0)
	viper.SetDefault("queue.transcriptionqueue", "transcription")
	viper.SetDefault("queue.webhookqueue", "webhooks")
	viper.SetDefault("queue.concurrency", 2)
	viper.SetDefault("queue.visibilityseconds", 7200)

	viper.SetDefault("janitor.staleminutes", 30)
	viper.SetDefault("janitor.retentiondays", 30)

	viper.SetDefault("webhook.maxattempts", 5)
	viper.SetDefault("webhook.timeoutseconds", 30)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.urls", []string{})

	viper.SetDefault("http.enabled", true)
	viper.SetDefault("http.listen", "0.0.0.0:8090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
}
