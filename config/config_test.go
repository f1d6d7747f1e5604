package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - request-worker",
			input: "request-worker",
			expected: map[ServiceMode]bool{
				ServiceModeRequestWorker: true,
			},
			expectError: false,
		},
		{
			name:  "single service - archive-worker",
			input: "archive-worker",
			expected: map[ServiceMode]bool{
				ServiceModeArchiveWorker: true,
			},
			expectError: false,
		},
		{
			name:  "multiple services",
			input: "request-worker,archive-worker",
			expected: map[ServiceMode]bool{
				ServiceModeRequestWorker: true,
				ServiceModeArchiveWorker: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "request-worker,archive-worker,restore-worker,thaw-worker",
			expected: map[ServiceMode]bool{
				ServiceModeRequestWorker: true,
				ServiceModeArchiveWorker: true,
				ServiceModeRestoreWorker: true,
				ServiceModeThawWorker:    true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " request-worker , thaw-worker ",
			expected: map[ServiceMode]bool{
				ServiceModeRequestWorker: true,
				ServiceModeThawWorker:    true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "request-worker,request-worker,restore-worker",
			expected: map[ServiceMode]bool{
				ServiceModeRequestWorker: true,
				ServiceModeRestoreWorker: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "request-worker,invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name            string
		services        string
		expectedRequest bool
		expectedArchive bool
		expectedRestore bool
		expectedThaw    bool
	}{
		{
			name:            "default - request worker only",
			services:        "request-worker",
			expectedRequest: true,
		},
		{
			name:            "archive pipeline",
			services:        "archive-worker,restore-worker,thaw-worker",
			expectedArchive: true,
			expectedRestore: true,
			expectedThaw:    true,
		},
		{
			name:     "invalid config enables nothing",
			services: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			if got := cfg.IsRequestWorkerEnabled(); got != tt.expectedRequest {
				t.Errorf("IsRequestWorkerEnabled() = %v, expected %v", got, tt.expectedRequest)
			}
			if got := cfg.IsArchiveWorkerEnabled(); got != tt.expectedArchive {
				t.Errorf("IsArchiveWorkerEnabled() = %v, expected %v", got, tt.expectedArchive)
			}
			if got := cfg.IsRestoreWorkerEnabled(); got != tt.expectedRestore {
				t.Errorf("IsRestoreWorkerEnabled() = %v, expected %v", got, tt.expectedRestore)
			}
			if got := cfg.IsThawWorkerEnabled(); got != tt.expectedThaw {
				t.Errorf("IsThawWorkerEnabled() = %v, expected %v", got, tt.expectedThaw)
			}
		})
	}
}

func TestAppConfig_ParseAWSEnv(t *testing.T) {
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("AWS_REQUEST_QUEUE_URL", "https://sqs.us-west-2.amazonaws.com/000000000000/annex-requests")
	t.Setenv("AWS_ARCHIVE_TOPIC_ARN", "arn:aws:sns:us-west-2:000000000000:annex-archive")
	t.Setenv("AWS_KEY_NAMESPACE", " genomics/ ")
	t.Setenv("AWS_GLACIER_VAULT", "annex-cold")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.AWS.Region != "us-west-2" {
		t.Errorf("Region = %q, expected us-west-2", cfg.AWS.Region)
	}
	if cfg.AWS.RequestQueueURL != "https://sqs.us-west-2.amazonaws.com/000000000000/annex-requests" {
		t.Errorf("unexpected RequestQueueURL %q", cfg.AWS.RequestQueueURL)
	}
	if cfg.AWS.ArchiveTopic != "arn:aws:sns:us-west-2:000000000000:annex-archive" {
		t.Errorf("unexpected ArchiveTopic %q", cfg.AWS.ArchiveTopic)
	}
	if cfg.AWS.KeyNamespace != "genomics" {
		t.Errorf("KeyNamespace = %q, expected trimmed genomics", cfg.AWS.KeyNamespace)
	}
	if cfg.AWS.GlacierVault != "annex-cold" {
		t.Errorf("GlacierVault = %q, expected annex-cold", cfg.AWS.GlacierVault)
	}
	if cfg.AWS.InputBucket != "annex-inputs" || cfg.AWS.ResultBucket != "annex-results" {
		t.Errorf("unexpected bucket defaults: %q, %q", cfg.AWS.InputBucket, cfg.AWS.ResultBucket)
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	tests := []struct {
		name          string
		in            WorkerConfig
		expectedWait  time.Duration
		expectedBatch int
	}{
		{
			name:          "defaults applied to zero values",
			in:            WorkerConfig{},
			expectedWait:  10 * time.Second,
			expectedBatch: 1,
		},
		{
			name:          "wait clamped to queue maximum",
			in:            WorkerConfig{PollWait: time.Minute, BatchSize: 5},
			expectedWait:  20 * time.Second,
			expectedBatch: 5,
		},
		{
			name:          "batch clamped to queue maximum",
			in:            WorkerConfig{PollWait: 5 * time.Second, BatchSize: 100},
			expectedWait:  5 * time.Second,
			expectedBatch: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.Sanitize()
			if cfg.PollWait != tt.expectedWait {
				t.Errorf("PollWait = %v, expected %v", cfg.PollWait, tt.expectedWait)
			}
			if cfg.BatchSize != tt.expectedBatch {
				t.Errorf("BatchSize = %v, expected %v", cfg.BatchSize, tt.expectedBatch)
			}
		})
	}
}

func TestArchiveWorkerConfig_Sanitize(t *testing.T) {
	cfg := ArchiveWorkerConfig{GracePeriod: -time.Hour}
	cfg.Sanitize()
	if cfg.GracePeriod != 0 {
		t.Errorf("GracePeriod = %v, expected 0", cfg.GracePeriod)
	}
}
