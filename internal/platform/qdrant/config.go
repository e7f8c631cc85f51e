package qdrant

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/docingest-backend/internal/platform/envutil"
)

// Config selects the collection that holds chunk vectors. VectorDim must match the embedder.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
	Distance   string
	Timeout    time.Duration
}

const defaultVectorDim = 1536

type ConfigErrorCode string

const (
	ConfigErrorMissingURL        ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
	ConfigErrorInvalidDistance   ConfigErrorCode = "invalid_distance"
)

var configErrorText = map[ConfigErrorCode]string{
	ConfigErrorMissingURL:        "QDRANT_URL is required",
	ConfigErrorInvalidURL:        "QDRANT_URL %q is not an absolute http(s) URL",
	ConfigErrorMissingCollection: "QDRANT_COLLECTION is required",
	ConfigErrorInvalidVectorDim:  "QDRANT_VECTOR_DIM %q must be a positive integer",
	ConfigErrorInvalidDistance:   "QDRANT_DISTANCE %q must be one of Cosine, Dot, Euclid, Manhattan",
}

// distances maps lower-cased input to the name the Qdrant API expects.
var distances = map[string]string{
	"cosine":    "Cosine",
	"dot":       "Dot",
	"euclid":    "Euclid",
	"manhattan": "Manhattan",
}

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "qdrant: invalid config"
	}
	text, ok := configErrorText[e.Code]
	if !ok {
		return "qdrant: invalid config"
	}
	if strings.Contains(text, "%q") {
		text = fmt.Sprintf(text, e.Value)
	}
	return "qdrant: " + text
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveConfigFromEnv reads QDRANT_* and returns a validated config with the distance
// name canonicalized.
func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:        strings.TrimSpace(os.Getenv("QDRANT_URL")),
		APIKey:     strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
		Collection: envutil.String("QDRANT_COLLECTION", "documents"),
		VectorDim:  defaultVectorDim,
		Distance:   envutil.String("QDRANT_DISTANCE", "Cosine"),
		Timeout:    envutil.Duration("QDRANT_TIMEOUT_SECONDS", 30*time.Second, time.Second),
	}
	if raw := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); raw != "" {
		dim, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: raw, Cause: err}
		}
		cfg.VectorDim = dim
	}
	if canon, ok := distances[strings.ToLower(cfg.Distance)]; ok {
		cfg.Distance = canon
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateConfig checks a config built in code. An empty Distance means Cosine.
func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL, Cause: err}
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: strconv.Itoa(cfg.VectorDim)}
	}
	if cfg.Distance != "" {
		if distances[strings.ToLower(cfg.Distance)] != cfg.Distance {
			return &ConfigError{Code: ConfigErrorInvalidDistance, Value: cfg.Distance}
		}
	}
	return nil
}
