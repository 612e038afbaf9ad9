package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
	"github.com/nerrad567/endpoint-cloud/migrations"
)

type migrateAction int

const (
	migrateUp migrateAction = iota
	migrateDown
	migrateStatus
)

// loadTopology loads the configuration and builds the deployment graph.
func loadTopology(configPath string) (*config.Config, *topology.Topology, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	topo, err := topology.FromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building topology: %w", err)
	}
	return cfg, topo, nil
}

// runOutputs prints the values other systems need to wire up trust with the
// stack: router id and URLs, skill handler id and table names.
func runOutputs(configPath string, out io.Writer) error {
	_, topo, err := loadTopology(configPath)
	if err != nil {
		return err
	}
	return writeYAML(out, struct {
		Stack   string            `yaml:"stack"`
		Outputs []topology.Output `yaml:"outputs"`
	}{topo.Name(), topo.Outputs()})
}

// runPolicy prints the grants of one compute unit.
func runPolicy(configPath, function string, out io.Writer) error {
	_, topo, err := loadTopology(configPath)
	if err != nil {
		return err
	}
	fn, err := topo.Function(function)
	if err != nil {
		return err
	}
	return writeYAML(out, struct {
		Function string          `yaml:"function"`
		ARN      string          `yaml:"arn"`
		Policy   topology.Policy `yaml:"policy"`
	}{fn.Name, topo.ARNs().Function(fn.Name), fn.Policy})
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// runToken signs a bearer token with the shared secret. A compute unit
// token passes the router's authorizer for the routes that unit may invoke;
// a user token is accepted as a directive scope.
func runToken(configPath string, cmd TokenCmd, out io.Writer) error {
	cfg, topo, err := loadTopology(configPath)
	if err != nil {
		return err
	}

	var kind auth.Kind
	var subject string
	switch {
	case cmd.Function != "":
		if _, err := topo.Function(cmd.Function); err != nil {
			return err
		}
		kind, subject = auth.KindUnit, cmd.Function
	case cmd.User != "":
		kind, subject = auth.KindUser, cmd.User
	default:
		return errors.New("one of --function or --user is required")
	}

	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = time.Duration(cfg.Security.JWT.TokenTTL) * time.Minute
	}
	token, err := auth.IssueToken(kind, subject, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// runMigrate applies, rolls back or lists the SQLite schema migrations.
func runMigrate(ctx context.Context, configPath string, action migrateAction, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage.Backend != config.BackendSQLite {
		return fmt.Errorf("migrations apply to the sqlite backend, storage.backend is %q", cfg.Storage.Backend)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	src := migrations.Source()
	switch action {
	case migrateUp:
		if err := db.Migrate(ctx, src); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case migrateDown:
		if err := db.MigrateDown(ctx, src); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, m := range applied {
		fmt.Fprintf(tw, "applied\t%s\t%s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "pending\t%s\t%s\n", m.Version, m.Name)
	}
	return tw.Flush()
}
