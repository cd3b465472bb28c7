package papertutor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/salmanmuddhoo/papertutor/detector"
	"github.com/salmanmuddhoo/papertutor/llm"
	"github.com/salmanmuddhoo/papertutor/objstore"
	"github.com/salmanmuddhoo/papertutor/tutor"
)

// Config holds all configuration for the paper pipeline.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.papertutor/<DBName>.db
	DBPath string `json:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "papertutor".
	DBName string `json:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. "home" (default) uses ~/.papertutor/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir"`

	// Completion is the vision-capable provider used for detection,
	// text extraction, and answering.
	Completion llm.Config `json:"completion"`

	// Embedding is optional; when set, stored question text is embedded
	// for similar-question search.
	Embedding llm.Config `json:"embedding,omitempty"`

	// Detector configures boundary detection.
	Detector detector.Config `json:"detector"`

	// CropTopPercent is the header band removed from each page image
	// before composing question images. Zero uses the default; negative
	// disables cropping.
	CropTopPercent int `json:"crop_top_percent,omitempty"`

	// Objects configures the object storage backend for page and
	// question images.
	Objects objstore.Config `json:"objects"`

	// Tutor configures query-time answering.
	Tutor tutor.Config `json:"tutor"`

	// EmbeddingDim must match the embedding model. Defaults to 768.
	EmbeddingDim int `json:"embedding_dim,omitempty"`

	// ExtractConcurrency bounds in-flight text-extraction calls during
	// ingestion. Defaults to 4.
	ExtractConcurrency int `json:"extract_concurrency,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for local use:
// an Ollama completion endpoint, merged detection, and on-disk object
// storage next to the database.
func DefaultConfig() Config {
	return Config{
		DBName:     "papertutor",
		StorageDir: "home",
		Completion: llm.Config{
			Provider: "ollama",
			Model:    "llama3.2-vision",
		},
		Detector: detector.Config{
			Mode: detector.ModeMerged,
		},
		Objects: objstore.Config{
			Backend: "local",
			Dir:     filepath.Join(defaultStorageRoot(), "objects"),
		},
		Tutor: tutor.Config{
			OptimizedMode: true,
		},
		EmbeddingDim:       768,
		ExtractConcurrency: 4,
	}
}

// LoadConfig builds a Config from defaults, an optional JSON config
// file, and environment overrides, in that order. path may be empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides config fields from PAPERTUTOR_* environment
// variables, falling back to the provider's conventional key variable.
func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.DBPath, "PAPERTUTOR_DB_PATH")
	set(&c.Completion.Provider, "PAPERTUTOR_COMPLETION_PROVIDER")
	set(&c.Completion.Model, "PAPERTUTOR_COMPLETION_MODEL")
	set(&c.Completion.BaseURL, "PAPERTUTOR_COMPLETION_BASE_URL")
	set(&c.Completion.APIKey, "PAPERTUTOR_COMPLETION_API_KEY")
	set(&c.Embedding.Provider, "PAPERTUTOR_EMBED_PROVIDER")
	set(&c.Embedding.Model, "PAPERTUTOR_EMBED_MODEL")
	set(&c.Embedding.APIKey, "PAPERTUTOR_EMBED_API_KEY")
	set(&c.Objects.Backend, "PAPERTUTOR_OBJECTS_BACKEND")
	set(&c.Objects.Bucket, "PAPERTUTOR_OBJECTS_BUCKET")
	set(&c.Objects.Dir, "PAPERTUTOR_OBJECTS_DIR")

	if c.Completion.APIKey == "" {
		c.Completion.APIKey = providerKeyFromEnv(c.Completion.Provider)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKeyFromEnv(c.Embedding.Provider)
	}
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	}
	return ""
}

// Validate fails fast on configuration the pipeline cannot run with. A
// missing API key surfaces here, at construction, not mid-ingestion.
func (c *Config) Validate() error {
	if err := c.Completion.Validate(); err != nil {
		return fmt.Errorf("%w: completion: %v", ErrInvalidConfig, err)
	}
	if c.Embedding.Provider != "" {
		if err := c.Embedding.Validate(); err != nil {
			return fmt.Errorf("%w: embedding: %v", ErrInvalidConfig, err)
		}
	}
	if c.EmbeddingDim < 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "papertutor"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		return filepath.Join(defaultStorageRoot(), name+".db")
	}
}

func defaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." // fallback to cwd
	}
	return filepath.Join(home, ".papertutor")
}
