package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ha1tch/olu-graph/pkg/admin"
	"github.com/ha1tch/olu-graph/pkg/applications"
	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/cache"
	"github.com/ha1tch/olu-graph/pkg/config"
	"github.com/ha1tch/olu-graph/pkg/entities"
	"github.com/ha1tch/olu-graph/pkg/events"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/server"
	"github.com/ha1tch/olu-graph/pkg/storage"
	"github.com/ha1tch/olu-graph/pkg/values"
)

func main() {
	// Load configuration
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	printBanner(cfg)

	namespaces, err := models.LoadNamespaces(cfg.NamespacesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load namespaces")
	}

	// Initialize storage
	entityStore, appStore, err := storage.NewSpaces(cfg.StorageType, map[string]interface{}{
		"db_path":         cfg.DBPath,
		"genid_namespace": models.JoinNamespace(cfg.EntitiesNamespace, "genid/"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer entityStore.Close()
	defer appStore.Close()

	for _, store := range []storage.Store{entityStore, appStore} {
		if infoProvider, ok := store.(storage.InfoProvider); ok {
			info := infoProvider.Info()
			logger.Info().Str("type", info.Type).Str("space", info.Space).Msg("Storage initialized")
		}
	}

	// Initialize cache
	cacheInstance, err := cache.New(cfg.CacheType, cfg.CacheSize, cfg.CacheDuration(), cfg.RedisHost, cfg.RedisPort)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to connect to Redis, falling back to memory cache")
		cacheInstance = cache.NewMemoryCache(cfg.CacheSize, cfg.CacheDuration())
	} else {
		logger.Info().Str("type", cfg.CacheType).Msg("Cache initialized")
	}
	defer cacheInstance.Close()

	issuer, err := auth.NewIssuer([]byte(cfg.GrantSecret))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize grant issuer")
	}
	if cfg.SystemAPIKey == "" {
		logger.Warn().Msg("SYSTEM_API_KEY is not set, tenant and admin endpoints are unreachable")
	}

	bus := events.NewBus(logger.With().Str("component", "events").Logger())

	entityService := entities.NewService(entityStore, logger.With().Str("component", "entities").Logger(),
		entities.WithCache(cacheInstance, cfg.CacheDuration()),
		entities.WithPublisher(bus),
		entities.WithListLimit(cfg.MaxListEntities),
		entities.WithConcurrency(cfg.ListConcurrency),
		entities.WithGenidNamespace(models.JoinNamespace(cfg.EntitiesNamespace, "genid/")),
	)
	entityService.Subscribe(bus)

	valueService := values.NewService(entityStore, namespaces, bus, logger.With().Str("component", "values").Logger())

	appService := applications.NewService(appStore, cfg.ApplicationsNamespace, issuer, logger.With().Str("component", "applications").Logger(),
		applications.WithCache(cacheInstance),
		applications.WithPublisher(bus),
	)
	appService.Subscribe(bus)

	runner := admin.NewRunner([]storage.Store{entityStore, appStore}, logger.With().Str("component", "admin").Logger(),
		admin.WithPublisher(bus),
		admin.WithMaxImportSize(cfg.MaxImportSize),
	)
	defer runner.Close()

	// Create server
	srv := server.New(cfg, entityService, valueService, appService, runner, issuer, logger)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msg("Server ready to accept requests")
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down cleanly")
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	if cfg.LogJSON {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func printBanner(cfg *config.Config) {
	// Light blue color code
	lightBlue := "\033[1;36m"
	reset := "\033[0m"

	fmt.Print(lightBlue)
	fmt.Println("//////////////////////////////////////////////")
	fmt.Println("//....._,gggggg,_...........................//")
	fmt.Println("//...,d8P\"\"d8P\"Y8b,....,dPYb,...............//")
	fmt.Println("//..,d8'...Y8...\"8b,dP.IP'`Yb...............//")
	fmt.Println("//..d8'....`Ybaaad88P'.I8..8I...............//")
	fmt.Println("//..8P.......`\"\"\"\"Y8...I8..8'...............//")
	fmt.Println("//..8b............d8...I8.dP..gg......gg....//")
	fmt.Println("//..Y8,..........,8P...I8dP...I8......8I....//")
	fmt.Println("//..`Y8,........,8P'...I8P....I8,....,8I....//")
	fmt.Println("//...`Y8b,,__,,d8P'...,d8b,_.,d8b,..,d8b,...//")
	fmt.Println("//.....`\"Y8888P\"'.....8P'\"Y888P'\"Y88P\"`Y8...//")
	fmt.Println("//////////////////////////////////////////////")
	fmt.Print(reset)

	fmt.Println()
	fmt.Println("/////////////////////////// olug " + config.Version + " ////////////////////////////")
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Server Configuration:")
	fmt.Printf("  Host: %s\n", cfg.Host)
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Println()
	fmt.Println("Statement Store:")
	fmt.Printf("  Type: %s\n", cfg.StorageType)
	if cfg.StorageType == "sqlite" {
		fmt.Printf("  Database: %s\n", cfg.DBPath)
	}
	fmt.Printf("  Entities: %s\n", cfg.EntitiesNamespace)
	fmt.Printf("  Applications: %s\n", cfg.ApplicationsNamespace)
	fmt.Println()
	fmt.Println("Cache Configuration:")
	fmt.Printf("  Type: %s\n", cfg.CacheType)
	fmt.Printf("  TTL: %d seconds\n", cfg.CacheTTL)
	if cfg.CacheType == "redis" {
		fmt.Printf("  Redis: %s:%d\n", cfg.RedisHost, cfg.RedisPort)
	}
	fmt.Println()
	fmt.Println("Limits:")
	fmt.Printf("  Max listed entities: %d\n", cfg.MaxListEntities)
	fmt.Printf("  Max import size: %d bytes\n", cfg.MaxImportSize)
	fmt.Printf("  List concurrency: %d\n", cfg.ListConcurrency)
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println()
}
