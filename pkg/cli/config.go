package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/intent"
	"github.com/stoatlab/stoat/pkg/repository"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Repository
	backend  string
	project  string
	database string

	// Adapters
	geminiProject  string
	geminiLocation string
	bigquery       string
	bucket         string

	// Pipeline
	schemaPath string
	logLevel   string
	logFormat  string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Repository backend: memory or firestore",
			Value:       "firestore",
			Sources:     cli.EnvVars("STOAT_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "schema",
			Usage:       "Path to the schema definitions YAML",
			Value:       "schema.yml",
			Sources:     cli.EnvVars("STOAT_SCHEMA_PATH"),
			Destination: &cfg.schemaPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("STOAT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format: console or json",
			Value:       "console",
			Sources:     cli.EnvVars("STOAT_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM and execution backends with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID for BigQuery execution",
			Sources:     cli.EnvVars("BIGQUERY_PROJECT_ID"),
			Destination: &cfg.bigquery,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for result archives (optional)",
			Sources:     cli.EnvVars("STOAT_RESULT_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.backend {
	case "memory":
		return repository.NewMemory(), nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for the firestore backend")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for the firestore backend")
		}
		repo, err := repository.New(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil

	default:
		return nil, goerr.New("unknown repository backend", goerr.V("backend", cfg.backend))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, project, cfg.geminiLocation)
}

// newDatabase creates a new BigQuery execution client
func (cfg *config) newDatabase(ctx context.Context) (adapter.Database, error) {
	project := cfg.bigquery
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("bigquery-project is required")
	}
	return adapter.NewBigQuery(ctx, project)
}

// newStorage creates a new Storage adapter instance when a bucket is
// configured; nil otherwise.
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}
	storage, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newClassifier builds the intent chain: keyword match first, LLM
// fallback behind it. Table identifiers extend the keyword vocabulary.
func (cfg *config) newClassifier(gemini adapter.Gemini, tables []string) intent.Classifier {
	return intent.NewChain([]intent.Classifier{
		intent.NewKeyword(tables...),
		intent.NewLLM(gemini),
	})
}
