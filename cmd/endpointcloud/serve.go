package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/oklog/run"

	"github.com/nerrad567/endpoint-cloud/internal/api"
	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/directive"
	"github.com/nerrad567/endpoint-cloud/internal/endpointcloud"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/influxdb"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/mqtt"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

// runServe runs the router in front of the endpoint handler until ctx is
// cancelled or a signal arrives.
func runServe(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Endpoint Cloud",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	topo, err := topology.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}
	log.Info("topology built",
		"stack", topo.Name(),
		"api_id", topo.API().ID,
		"base_url", topo.API().BaseURL,
		"routes", len(topo.Routes()),
	)

	b, err := openBackends(ctx, cfg, topo, log)
	if err != nil {
		return err
	}
	defer b.Close(log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		if cfg.Registry.PublishShadows && b.local != nil {
			b.local.SetPublisher(mqttClient)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)
	handler, err := newEndpointHandler(ctx, cfg, topo, b, log, handlerOptions{
		hub:    hub,
		mqtt:   mqttClient,
		influx: influxClient,
	})
	if err != nil {
		return err
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Topology: topo,
		Handlers: map[string]http.Handler{
			cfg.Stack.EndpointFunction.Name: handler,
		},
		Hub:     hub,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	if mqttClient != nil {
		if err := handler.SubscribeReported(ctx, mqttClient, byte(cfg.MQTT.QoS)); err != nil {
			return fmt.Errorf("subscribing to reported state: %w", err)
		}
		log.Info("ingesting reported state from the device bus")
	}

	if err := healthCheck(ctx, b, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var (
		g        run.Group
		startErr error
	)
	{
		stop := make(chan struct{})
		g.Add(func() error {
			if startErr = server.Start(ctx); startErr != nil {
				return fmt.Errorf("starting router: %w", startErr)
			}
			log.Info("router listening", "addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
			<-stop
			return nil
		}, func(error) {
			close(stop)
			if err := server.Close(); err != nil {
				log.Error("error stopping router", "error", err)
			}
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	reason := g.Run()
	if startErr != nil {
		return fmt.Errorf("starting router: %w", startErr)
	}
	log.Info("shutdown signal received, cleaning up", "reason", reason)

	// Deferred Close() calls run in reverse order:
	// InfluxDB, MQTT, then the database.
	log.Info("Endpoint Cloud stopped")
	return nil
}

// handlerOptions are the optional collaborators of the endpoint handler.
type handlerOptions struct {
	hub    *api.Hub
	mqtt   *mqtt.Client
	influx *influxdb.Client
}

// newEndpointHandler assembles the endpoint handler from the backends. Its
// settings come from the environment the topology injects into the unit.
// Identity provider keys are refreshed until ctx is done.
func newEndpointHandler(ctx context.Context, cfg *config.Config, topo *topology.Topology, b *backends, log *logging.Logger, opts handlerOptions) (*endpointcloud.Handler, error) {
	fn, err := topo.Function(cfg.Stack.EndpointFunction.Name)
	if err != nil {
		return nil, err
	}
	settings, err := endpointcloud.LoadSettings(fn.Environment)
	if err != nil {
		return nil, err
	}

	resolver, err := auth.LoadResolver(ctx, cfg.Security)
	if err != nil {
		return nil, err
	}
	if cfg.Security.Identity.Enabled() {
		log.Info("accepting identity provider tokens", "jwks_url", cfg.Security.Identity.KeysURL())
	}

	dispatcher := directive.NewDispatcher(b.endpoints, b.users, b.registry,
		resolver,
		directive.NewOAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.TokenURL, cfg.OAuth.RedirectURL),
	)
	dispatcher.SetLogger(log)

	deps := endpointcloud.Deps{
		Settings:   settings,
		Logger:     log,
		Endpoints:  b.endpoints,
		Users:      b.users,
		Registry:   b.registry,
		Directives: dispatcher,
		ThingGroup: cfg.Registry.ThingGroup,
		Timeout:    fn.Timeout,
	}
	// Typed nils must not reach the interface fields.
	if opts.hub != nil {
		deps.Hub = opts.hub
	}
	if opts.mqtt != nil {
		deps.Events = opts.mqtt
	}
	if opts.influx != nil {
		deps.Telemetry = opts.influx
	}

	handler, err := endpointcloud.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating endpoint handler: %w", err)
	}
	return handler, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// Clients that are disabled are nil and skipped.
func healthCheck(ctx context.Context, b *backends, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := b.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
