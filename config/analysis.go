package config

import (
	"strings"
	"time"
)

const defaultLLMModel = "gemini-2.0-flash"

// LLMConfig configures the Gemini reasoning backend.
type LLMConfig struct {
	APIKey string `env:"LLM_API_KEY"`
	Model  string `env:"LLM_MODEL"  envDefault:"gemini-2.0-flash"`
	// ConsensusModels are polled by consensus jobs; the first also judges signal jobs.
	ConsensusModels []string `env:"LLM_CONSENSUS_MODELS"`
	// SignalModel extracts the structured trade signal; defaults to Model.
	SignalModel    string        `env:"LLM_SIGNAL_MODEL"`
	MaxRetries     int           `env:"LLM_MAX_RETRIES"      envDefault:"3"`
	RetryBaseDelay time.Duration `env:"LLM_RETRY_BASE_DELAY" envDefault:"2s"`
}

// Sanitize trims model names and drops empty entries.
func (c *LLMConfig) Sanitize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.Model = strings.TrimSpace(c.Model); c.Model == "" {
		c.Model = defaultLLMModel
	}
	if c.SignalModel = strings.TrimSpace(c.SignalModel); c.SignalModel == "" {
		c.SignalModel = c.Model
	}
	c.ConsensusModels = trimNonEmpty(c.ConsensusModels)
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
}

// AnalysisConfig configures the chart analysis handler.
type AnalysisConfig struct {
	// FollowupQuestions drive the reasoning loop of signal jobs. Questions are separated by "|"
	// since they routinely contain commas.
	FollowupQuestions []string `env:"ANALYSIS_FOLLOWUP_QUESTIONS" envSeparator:"|"`
	// SignalPath is a JMESPath expression selecting the signal from the extraction output.
	SignalPath string `env:"ANALYSIS_SIGNAL_PATH"  envDefault:"@"`
	CreditCost int    `env:"ANALYSIS_CREDIT_COST"  envDefault:"1"`
}

// Sanitize applies guardrails to analysis settings.
func (c *AnalysisConfig) Sanitize() {
	c.FollowupQuestions = trimNonEmpty(c.FollowupQuestions)
	if c.SignalPath = strings.TrimSpace(c.SignalPath); c.SignalPath == "" {
		c.SignalPath = "@"
	}
	if c.CreditCost < 0 {
		c.CreditCost = 0
	}
}

// ImagesConfig configures chart image loading.
type ImagesConfig struct {
	MaxBytes    int64 `env:"IMAGES_MAX_BYTES"   envDefault:"20971520"`
	Concurrency int   `env:"IMAGES_CONCURRENCY" envDefault:"4"`
	// S3Endpoint overrides the S3 endpoint and switches to path-style addressing (LocalStack, MinIO).
	S3Endpoint string `env:"IMAGES_S3_ENDPOINT"`
}

// Sanitize restores defaults for non-positive values.
func (c *ImagesConfig) Sanitize() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 << 20
	}
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	c.S3Endpoint = strings.TrimSpace(c.S3Endpoint)
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
