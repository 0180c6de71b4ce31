package cli

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/docmgr/docstore/config"
	"github.com/docmgr/docstore/dynamodb"
	"github.com/docmgr/docstore/memory"
	"github.com/docmgr/docstore/postgres"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

// Backend is an opened store together with its lifecycle hooks.
type Backend struct {
	Store store.Store

	// Init validates, and where supported creates, the storage schema.
	Init func(ctx context.Context, skipSchemaValidation bool) error

	// Close releases the backend's connections.
	Close func(ctx context.Context) error
}

// Opener opens the backend described by a configuration.
type Opener func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error)

// OpenBackend opens the backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		return openDynamoDB(ctx, cfg, logger)
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.BackendMemory:
		return MemoryBackend(memory.New()), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// MemoryBackend wraps an in-process store.
func MemoryBackend(s *memory.Store) *Backend {
	return &Backend{
		Store: s,
		Init:  func(context.Context, bool) error { return nil },
		Close: func(context.Context) error { return nil },
	}
}

func openDynamoDB(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.DynamoDB.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.New(&awsCfg, cfg.DynamoDB.Table,
		dynamodb.WithMaxAttempts(cfg.DynamoDB.MaxAttempts),
		dynamodb.WithConsistentRead(cfg.DynamoDB.ConsistentRead),
		dynamodb.WithEndpoint(cfg.DynamoDB.Endpoint),
		dynamodb.WithLogger(logger),
	)

	if err := client.Connect(); err != nil {
		return nil, err
	}

	return &Backend{
		Store: client,
		Init:  client.Init,
		Close: func(context.Context) error { return nil },
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	client := postgres.New(
		postgres.WithHost(cfg.Postgres.Host),
		postgres.WithPort(cfg.Postgres.Port),
		postgres.WithUser(cfg.Postgres.User),
		postgres.WithPassword(cfg.Postgres.Password),
		postgres.WithDatabase(cfg.Postgres.Database),
		postgres.WithSSLMode(postgres.SSLMode(cfg.Postgres.SSLMode)),
		postgres.WithTable(cfg.Postgres.Table),
		postgres.WithLogger(logger),
	)

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	return &Backend{
		Store: client,
		Init:  client.Init,
		Close: client.Close,
	}, nil
}
