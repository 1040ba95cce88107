package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server     ServerConfig
	OpenAI     OpenAIConfig
	Serper     SerperConfig
	Qdrant     QdrantConfig
	Pipeline   PipelineConfig
	Guardrails GuardrailsConfig
	Ingest     IngestConfig
	EvalLog    EvalLogConfig
}

type ServerConfig struct {
	Port         string        `envconfig:"SERVER_PORT" default:"8000"`
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
}

type OpenAIConfig struct {
	Provider       string `envconfig:"OPENAI_PROVIDER" default:"openai"`
	APIKey         string `envconfig:"OPENAI_API_KEY" required:"true"`
	APIEndpoint    string `envconfig:"OPENAI_ENDPOINT" default:"https://api.openai.com/v1"`
	Model          string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	DeploymentName string `envconfig:"OPENAI_DEPLOYMENT" default:"gpt-4o"`
	APIVersion     string `envconfig:"OPENAI_API_VERSION" default:"2023-05-15"`
}

type SerperConfig struct {
	APIKey   string `envconfig:"SERPER_API_KEY"`
	Endpoint string `envconfig:"SERPER_ENDPOINT" default:"https://google.serper.dev/search"`
	Results  int    `envconfig:"SERPER_NUM_RESULTS" default:"5"`
}

type QdrantConfig struct {
	URL        string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
	APIKey     string `envconfig:"QDRANT_API_KEY"`
	Collection string `envconfig:"QDRANT_COLLECTION" default:"document_collection"`
	Dimension  int    `envconfig:"QDRANT_DIMENSION" default:"1536"`
	Distance   string `envconfig:"QDRANT_DISTANCE" default:"Cosine"`
}

// PipelineConfig carries retrieval and collaborator-call parameters.
type PipelineConfig struct {
	TopK                int           `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	SimilarityThreshold float64       `envconfig:"SIMILARITY_THRESHOLD" default:"0.7"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	MaxRetries          uint64        `envconfig:"MAX_RETRIES" default:"3"`
	RetryBaseDelay      time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay       time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
	RateLimitDelay      time.Duration `envconfig:"RATE_LIMIT_DELAY" default:"5s"`
}

// GuardrailsConfig carries gate thresholds and routing policy knobs.
type GuardrailsConfig struct {
	MaxQueryLength         int      `envconfig:"GUARDRAILS_MAX_QUERY_LENGTH" default:"1000"`
	DenyPatterns           []string `envconfig:"GUARDRAILS_DENY_PATTERNS"`
	SpecificityThreshold   float64  `envconfig:"SPECIFICITY_THRESHOLD" default:"0.7"`
	RelevanceThreshold     float64  `envconfig:"RELEVANCE_THRESHOLD" default:"0.6"`
	HallucinationThreshold float64  `envconfig:"HALLUCINATION_THRESHOLD" default:"0.7"`
	FallbackRoute          string   `envconfig:"GUARDRAILS_FALLBACK_ROUTE" default:"llm"`
}

type IngestConfig struct {
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`
}

type EvalLogConfig struct {
	Path string `envconfig:"EVAL_LOG_PATH" default:"./logs/queries.jsonl"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	slog.Info("configuration loaded successfully")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Guardrails.FallbackRoute {
	case "llm", "search":
	default:
		return fmt.Errorf("invalid GUARDRAILS_FALLBACK_ROUTE %q: must be llm or search", c.Guardrails.FallbackRoute)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be less than CHUNK_SIZE (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	for _, t := range []struct {
		name  string
		value float64
	}{
		{"SIMILARITY_THRESHOLD", c.Pipeline.SimilarityThreshold},
		{"SPECIFICITY_THRESHOLD", c.Guardrails.SpecificityThreshold},
		{"RELEVANCE_THRESHOLD", c.Guardrails.RelevanceThreshold},
		{"HALLUCINATION_THRESHOLD", c.Guardrails.HallucinationThreshold},
	} {
		if t.value < 0 || t.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", t.name, t.value)
		}
	}
	return nil
}
