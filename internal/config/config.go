// Package config loads the ingest configuration file and merges it with
// environment secrets and command line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/OFFIS-RIT/simgraph/internal/util"
	"github.com/OFFIS-RIT/simgraph/pkg/ai"
	"github.com/OFFIS-RIT/simgraph/pkg/common"
	"github.com/OFFIS-RIT/simgraph/pkg/ingesterr"
	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type EmbeddingsConfig struct {
	Provider       string        `yaml:"provider" validate:"oneof=openai ollama mock"`
	Model          string        `yaml:"model" validate:"required"`
	BatchSize      int           `yaml:"batch_size" validate:"min=1"`
	MaxChars       int           `yaml:"max_chars" validate:"gte=0"`
	MaxTokens      int           `yaml:"max_tokens" validate:"gte=0"`
	Dimensions     int           `yaml:"dimensions" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BaseURL        string        `yaml:"base_url"`
	Concurrency    int           `yaml:"concurrency" validate:"min=1"`
}

type GraphConfig struct {
	K             int     `yaml:"k" validate:"min=1"`
	MinSimilarity float64 `yaml:"min_similarity" validate:"gte=-1,lte=1"`
	Method        string  `yaml:"method" validate:"required"`
	DocType       string  `yaml:"doc_type" validate:"required"`
}

type ExecutionConfig struct {
	Mode          common.Mode   `yaml:"mode" validate:"oneof=incremental full"`
	MinPosts      int           `yaml:"min_posts" validate:"gte=0"`
	FailFast      bool          `yaml:"fail_fast"`
	ProbeProvider *bool         `yaml:"probe_provider"`
	LimitPosts    int           `yaml:"limit_posts" validate:"gte=0"`
	Lock          *bool         `yaml:"lock"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

type ExtractConfig struct {
	// Source is a local .jsonl path or an s3://bucket/key URI.
	Source string `yaml:"source" validate:"required"`
}

// Config is built once per run and passed to every component.
type Config struct {
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Graph      GraphConfig      `yaml:"graph"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Extract    ExtractConfig    `yaml:"extract"`

	// Filled from the environment, never from the file.
	DatabaseURL string `yaml:"-" validate:"required"`
	APIKey      string `yaml:"-"`
	// Path is the file the config was read from.
	Path string `yaml:"-"`
}

// Overrides holds command line values. Nil fields were not set.
type Overrides struct {
	Source        *string
	Provider      *string
	Model         *string
	BatchSize     *int
	MaxChars      *int
	K             *int
	MinSimilarity *float64
	Mode          *string
	MinPosts      *int
	LimitPosts    *int
	FailFast      *bool
	// FullRebuild forces full mode.
	FullRebuild bool
}

// ResolvePath picks the explicit path, then CONFIG_PATH, then config.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return util.GetEnvString("CONFIG_PATH", DefaultPath)
}

// Default returns a config with every default set. min_similarity 0 and
// max_chars 0 (no cap) are valid settings, so their defaults only apply
// through here.
func Default() *Config {
	cfg := &Config{
		Embeddings: EmbeddingsConfig{MaxChars: 8000},
		Graph:      GraphConfig{MinSimilarity: 0.75},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses the file at path on top of Default. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	const op = "config.load"

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ingesterr.Newf(ingesterr.KindConfig, op, "config file %s not found", path)
		}
		return nil, ingesterr.New(ingesterr.KindConfig, op, err)
	}

	cfg := Default()
	cfg.Path = path
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ingesterr.New(ingesterr.KindConfig, op, fmt.Errorf("parse %s: %w", path, err))
	}
	return cfg, nil
}

// ApplyDefaults fills every zero field except MinSimilarity and MaxChars.
func (c *Config) ApplyDefaults() {
	e := &c.Embeddings
	if e.Provider == "" {
		e.Provider = ai.ProviderOpenAI
	}
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.BatchSize == 0 {
		e.BatchSize = 16
	}
	if e.RequestTimeout <= 0 {
		e.RequestTimeout = 60 * time.Second
	}
	if e.Concurrency == 0 {
		e.Concurrency = 1
	}

	g := &c.Graph
	if g.K == 0 {
		g.K = 8
	}
	if g.Method == "" {
		g.Method = "topk"
	}
	if g.DocType == "" {
		g.DocType = "post"
	}

	x := &c.Execution
	if x.Mode == "" {
		x.Mode = common.ModeIncremental
	}
	if x.ProbeProvider == nil {
		x.ProbeProvider = boolPtr(true)
	}
	if x.Lock == nil {
		x.Lock = boolPtr(true)
	}
	if x.LockTTL <= 0 {
		x.LockTTL = 2 * time.Minute
	}

	if c.Extract.Source == "" {
		c.Extract.Source = "posts.jsonl"
	}
}

// ApplyEnv reads the DSN, the provider key and, if the file leaves it empty,
// the provider base URL.
func (c *Config) ApplyEnv() {
	c.DatabaseURL = DatabaseURLFromEnv()

	switch c.Embeddings.Provider {
	case ai.ProviderOllama:
		c.APIKey = util.GetEnvFirst("OLLAMA_API_KEY", "AI_EMBED_KEY")
		if c.Embeddings.BaseURL == "" {
			c.Embeddings.BaseURL = util.GetEnvFirst("OLLAMA_HOST", "AI_EMBED_URL")
		}
	default:
		c.APIKey = util.GetEnvFirst("OPENAI_API_KEY", "AI_EMBED_KEY")
		if c.Embeddings.BaseURL == "" {
			c.Embeddings.BaseURL = util.GetEnv("AI_EMBED_URL")
		}
	}
}

// ApplyOverrides copies every set override into c.
func (c *Config) ApplyOverrides(o Overrides) {
	setString(&c.Extract.Source, o.Source)
	setString(&c.Embeddings.Provider, o.Provider)
	setString(&c.Embeddings.Model, o.Model)
	setInt(&c.Embeddings.BatchSize, o.BatchSize)
	setInt(&c.Embeddings.MaxChars, o.MaxChars)
	setInt(&c.Graph.K, o.K)
	if o.MinSimilarity != nil {
		c.Graph.MinSimilarity = *o.MinSimilarity
	}
	if o.Mode != nil {
		c.Execution.Mode = common.Mode(*o.Mode)
	}
	setInt(&c.Execution.MinPosts, o.MinPosts)
	setInt(&c.Execution.LimitPosts, o.LimitPosts)
	if o.FailFast != nil {
		c.Execution.FailFast = *o.FailFast
	}
	if o.FullRebuild {
		c.Execution.Mode = common.ModeFull
	}
}

// Validate checks the struct tags and the few rules tags cannot express.
func (c *Config) Validate() error {
	const op = "config.validate"

	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return ingesterr.Newf(ingesterr.KindConfig, op, "invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return ingesterr.New(ingesterr.KindConfig, op, err)
	}
	if c.Embeddings.RequestTimeout <= 0 {
		return ingesterr.Newf(ingesterr.KindConfig, op, "embeddings.request_timeout must be positive")
	}
	if c.Execution.LockTTL < time.Second {
		return ingesterr.Newf(ingesterr.KindConfig, op, "execution.lock_ttl must be at least 1s")
	}
	return nil
}

// RunContext derives the per-execution flags.
func (c *Config) RunContext(runID string, dryRun bool) common.RunContext {
	return common.RunContext{
		RunID:      runID,
		Mode:       c.Execution.Mode,
		DryRun:     dryRun,
		FailFast:   c.Execution.FailFast,
		LimitPosts: c.Execution.LimitPosts,
		MinPosts:   c.Execution.MinPosts,
	}
}

// Secrets lists values that must never appear in redacted output.
func (c *Config) Secrets() []string {
	var out []string
	if c.APIKey != "" {
		out = append(out, c.APIKey)
	}
	if u, err := url.Parse(c.DatabaseURL); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok && pw != "" {
			out = append(out, pw)
		}
	}
	return out
}

// DatabaseURLFromEnv returns DATABASE_URL, or builds a URL from the libpq
// PG* variables when PGHOST or PGDATABASE is set.
func DatabaseURLFromEnv() string {
	if dsn := util.GetEnv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := util.GetEnv("PGHOST")
	db := util.GetEnv("PGDATABASE")
	if host == "" && db == "" {
		return ""
	}
	if host == "" {
		host = "localhost"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, util.GetEnvString("PGPORT", "5432")),
		Path:   "/" + db,
	}
	user := util.GetEnv("PGUSER")
	if pw := util.GetEnv("PGPASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else if user != "" {
		u.User = url.User(user)
	}
	if mode := util.GetEnv("PGSSLMODE"); mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}
	return u.String()
}

func boolPtr(v bool) *bool {
	return &v
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
