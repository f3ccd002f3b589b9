package config

import (
	"fmt"
	"net/url"
	"strings"

	"evaltrack/internal/pkg/logger"
)

// Issue captures a validation problem with a config field.
type Issue struct {
	Field   string
	Message string
}

// ValidationError aggregates config validation issues.
type ValidationError struct {
	Issues []Issue
}

// Error renders validation errors as a multi-line string.
func (err *ValidationError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return "config validation failed"
	}
	lines := make([]string, 0, len(err.Issues))
	for _, issue := range err.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return strings.Join(lines, "\n")
}

// issueCollector accumulates validation issues.
type issueCollector struct {
	issues []Issue
}

func (c *issueCollector) add(field, message string) {
	c.issues = append(c.issues, Issue{Field: field, Message: message})
}

func (c *issueCollector) result() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: c.issues}
}

// Validate checks a normalized config for correctness. Referenced model and
// data paths are not stat'ed here; missing files surface as model load or data
// source errors when an evaluation runs.
func Validate(cfg *Config) error {
	collector := &issueCollector{}

	if cfg.Version == 0 {
		collector.add("version", "is required")
	} else if cfg.Version != 1 {
		collector.add("version", fmt.Sprintf("unsupported version %d", cfg.Version))
	}

	validateEvaluation(cfg.Evaluation, collector.add)
	validateTracking(cfg.Tracking, collector.add)
	validateParams(cfg.Params, collector.add)
	validateOutputs(cfg, collector.add)

	return collector.result()
}

func validateEvaluation(eval EvaluationSection, add func(field, message string)) {
	if eval.ModelPath == "" {
		add("evaluation.model_path", "is required")
	}
	if eval.DataDir == "" {
		add("evaluation.data_dir", "is required")
	}
	switch len(eval.ImageSize) {
	case 2, 3:
		for i, dim := range eval.ImageSize[:2] {
			if dim <= 0 {
				add(fmt.Sprintf("evaluation.image_size[%d]", i), "must be > 0")
			}
		}
		if len(eval.ImageSize) == 3 {
			if c := eval.ImageSize[2]; c != 1 && c != 3 {
				add("evaluation.image_size[2]", fmt.Sprintf("unsupported channel count %d (want 1 or 3)", c))
			}
		}
	default:
		add("evaluation.image_size", "must be [height, width] or [height, width, channels]")
	}
	if eval.BatchSize <= 0 {
		add("evaluation.batch_size", "must be > 0")
	}
	if eval.ValidationSplit <= 0 || eval.ValidationSplit >= 1 {
		add("evaluation.validation_split", "must be between 0 and 1 (exclusive)")
	}
	if eval.Rescale <= 0 {
		add("evaluation.rescale", "must be > 0")
	}
	if eval.ScoresPath == "" {
		add("evaluation.scores_path", "is required")
	}
}

func validateTracking(tracking TrackingSection, add func(field, message string)) {
	if tracking.URI == "" {
		add("tracking.uri", "is required (or set MLFLOW_TRACKING_URI)")
	} else if trackingURL, err := parseTrackingURI(tracking.URI); err != nil {
		add("tracking.uri", err.Error())
	} else if tracking.RegistryURI != "" {
		registryURL, err := parseTrackingURI(tracking.RegistryURI)
		if err != nil {
			add("tracking.registry_uri", err.Error())
		} else if registryURL.Scheme != trackingURL.Scheme || registryURL.Host != trackingURL.Host {
			add("tracking.registry_uri", fmt.Sprintf("must share scheme and host with tracking.uri %q", tracking.URI))
		}
	}
	if tracking.Experiment == "" {
		add("tracking.experiment", "is required")
	}
	if tracking.Timeout < 0 {
		add("tracking.timeout", "must be >= 0")
	}
	if tracking.Token != "" && (tracking.Username != "" || tracking.Password != "") {
		add("tracking.credentials", "set either MLFLOW_TRACKING_TOKEN or username/password, not both")
	}
}

func parseTrackingURI(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URI %q: %v", raw, err)
	}
	switch parsed.Scheme {
	case "http", "https":
		if parsed.Host == "" {
			return nil, fmt.Errorf("URI %q has no host", raw)
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported scheme %q (want http, https or memory)", parsed.Scheme)
	}
	return parsed, nil
}

func validateParams(params map[string]any, add func(field, message string)) {
	for key := range params {
		if strings.TrimSpace(key) == "" {
			add("params", "keys must be non-empty")
		}
	}
}

func validateOutputs(cfg *Config, add func(field, message string)) {
	if raw := cfg.Metrics.PushgatewayURL; raw != "" {
		if parsed, err := url.Parse(raw); err != nil || parsed.Host == "" {
			add("metrics.pushgateway_url", fmt.Sprintf("invalid URL %q", raw))
		}
		if strings.TrimSpace(cfg.Metrics.Job) == "" {
			add("metrics.job", "is required when pushgateway_url is set")
		}
	}
	if len(cfg.Notify.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Notify.Kafka.Topic) == "" {
		add("notify.kafka.topic", "is required when brokers are set")
	}
	if !logger.ValidLevel(cfg.Log.Level) {
		add("log.level", fmt.Sprintf("unsupported level %q", cfg.Log.Level))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		add("log.format", fmt.Sprintf("unsupported format %q (want text or json)", cfg.Log.Format))
	}
}
