package config

import "strings"

// AWSConfig contains the managed-infrastructure configuration: queue
// URLs, notification topics, object buckets, and the cold-storage vault.
// All fields use the AWS_ env prefix (see AppConfig).
type AWSConfig struct {
	Region string `env:"REGION" envDefault:"us-east-1"`

	// Queue URLs, one per worker.
	RequestQueueURL string `env:"REQUEST_QUEUE_URL"`
	ArchiveQueueURL string `env:"ARCHIVE_QUEUE_URL"`
	RestoreQueueURL string `env:"RESTORE_QUEUE_URL"`
	ThawQueueURL    string `env:"THAW_QUEUE_URL"`

	// Topic ARNs for published notifications. CompletionTopic receives
	// job-finished notices; ArchiveTopic feeds the archive queue;
	// ThawTopic is where the cold tier announces ready retrievals and
	// feeds the thaw queue.
	CompletionTopic string `env:"COMPLETION_TOPIC_ARN"`
	ArchiveTopic    string `env:"ARCHIVE_TOPIC_ARN"`
	RestoreTopic    string `env:"RESTORE_TOPIC_ARN"`
	ThawTopic       string `env:"THAW_TOPIC_ARN"`

	// Object storage.
	InputBucket  string `env:"INPUT_BUCKET"  envDefault:"annex-inputs"`
	ResultBucket string `env:"RESULT_BUCKET" envDefault:"annex-results"`

	// KeyNamespace prefixes every object key: <namespace>/<user id>/<artifact>.
	KeyNamespace string `env:"KEY_NAMESPACE" envDefault:"annex"`

	// GlacierVault holds archived free-tier results.
	GlacierVault string `env:"GLACIER_VAULT" envDefault:"annex-vault"`
}

// Sanitize applies guardrails to AWS configuration values.
func (a *AWSConfig) Sanitize() {
	a.Region = strings.TrimSpace(a.Region)
	a.KeyNamespace = strings.Trim(strings.TrimSpace(a.KeyNamespace), "/")
	if a.KeyNamespace == "" {
		a.KeyNamespace = "annex"
	}
}
