package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/cloud"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/database"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
	"github.com/nerrad567/endpoint-cloud/internal/user"
	"github.com/nerrad567/endpoint-cloud/migrations"
)

// backends are the stores and the device registry of the endpoint handler,
// wrapped so every call is checked against the handler's grants.
type backends struct {
	endpoints endpoint.Repository
	users     user.Repository
	registry  thing.Registry

	db    *database.DB         // sqlite storage, or the in-memory local registry
	local *thing.LocalRegistry // nil unless the registry is local
}

// openBackends opens the configured storage and registry.
func openBackends(ctx context.Context, cfg *config.Config, topo *topology.Topology, log *logging.Logger) (*backends, error) {
	b := &backends{}
	var (
		endpoints endpoint.Repository
		users     user.Repository
		err       error
	)

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		if b.db, err = openDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		if err = b.db.Migrate(ctx, migrations.Source()); err != nil {
			b.Close(log)
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		endpoints = endpoint.NewSQLiteRepository(b.db.DB)
		users = user.NewSQLiteRepository(b.db.DB)
		log.Info("database connected", "path", cfg.Database.Path)

	case config.BackendMemory:
		if endpoints, err = endpoint.NewMemoryRepository(); err != nil {
			return nil, fmt.Errorf("creating endpoint store: %w", err)
		}
		if users, err = user.NewMemoryRepository(); err != nil {
			return nil, fmt.Errorf("creating identity store: %w", err)
		}
		log.Warn("using in-memory stores, state is lost on exit")

	case config.BackendDynamoDB:
		client, dynErr := cloud.DynamoDB(ctx, awsOptions(cfg))
		if dynErr != nil {
			return nil, fmt.Errorf("creating dynamodb client: %w", dynErr)
		}
		endpoints = endpoint.NewDynamoRepository(client, cfg.Stack.EndpointDetailsTable)
		users = user.NewDynamoRepository(client, cfg.Stack.UsersTable)
		log.Info("dynamodb stores ready",
			"endpoint_table", cfg.Stack.EndpointDetailsTable,
			"users_table", cfg.Stack.UsersTable,
		)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	var registry thing.Registry
	switch cfg.Registry.Backend {
	case config.RegistryLocal:
		if b.db == nil {
			if b.db, err = openRegistryMemory(ctx); err != nil {
				return nil, err
			}
			log.Warn("local registry is in memory, registered things are lost on exit")
		}
		b.local = thing.NewLocalRegistry(b.db.DB)
		b.local.SetLogger(log)
		registry = b.local

	case config.RegistryAWS:
		control, data, iotErr := cloud.IoT(ctx, cloud.Options{Region: cfg.Stack.Region}, cfg.Registry.DataEndpoint)
		if iotErr != nil {
			b.Close(log)
			return nil, fmt.Errorf("creating iot clients: %w", iotErr)
		}
		registry = thing.NewAWSRegistry(control, data)

	default:
		b.Close(log)
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}

	enforcer, err := topo.Enforcer(cfg.Stack.EndpointFunction.Name)
	if err != nil {
		b.Close(log)
		return nil, fmt.Errorf("loading endpoint handler grants: %w", err)
	}
	arns := topo.ARNs()
	b.endpoints = endpoint.NewGuarded(endpoints, enforcer,
		arns.Table(cfg.Stack.EndpointDetailsTable),
		arns.TableIndex(cfg.Stack.EndpointDetailsTable, topology.ByUserIDIndex))
	b.users = user.NewGuarded(users, enforcer, arns.Table(cfg.Stack.UsersTable))
	b.registry = thing.NewGuarded(registry, enforcer, arns)

	log.Info("device registry ready", "backend", cfg.Registry.Backend, "thing_group", cfg.Registry.ThingGroup)
	return b, nil
}

// HealthCheck pings the database when there is one. Managed stores have no
// cheap health check.
func (b *backends) HealthCheck(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	return b.db.HealthCheck(ctx)
}

// Close releases the database.
func (b *backends) Close(log *logging.Logger) {
	if b.db == nil {
		return
	}
	log.Info("closing database")
	if err := b.db.Close(); err != nil {
		log.Error("error closing database", "error", err)
	}
	b.db = nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// openRegistryMemory gives the local registry its own in-memory database
// when storage does not use sqlite.
func openRegistryMemory(ctx context.Context) (*database.DB, error) {
	db, err := database.OpenMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running registry migrations: %w", err)
	}
	return db, nil
}

func awsOptions(cfg *config.Config) cloud.Options {
	return cloud.Options{
		Region:    cfg.Stack.Region,
		Endpoint:  cfg.Storage.DynamoDB.Endpoint,
		AccessKey: cfg.Storage.DynamoDB.AccessKey,
		SecretKey: cfg.Storage.DynamoDB.SecretKey,
	}
}
