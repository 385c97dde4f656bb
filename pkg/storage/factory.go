package storage

import (
	"database/sql"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// StoreFactory is a function that creates a new Store instance
type StoreFactory func(config map[string]interface{}) (Store, error)

var (
	storeMu       sync.RWMutex
	storeRegistry = make(map[string]StoreFactory)
)

// RegisterStore registers a new store implementation
func RegisterStore(name string, factory StoreFactory) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storeRegistry[name] = factory
}

// NewStore creates a new store instance by name
func NewStore(name string, config map[string]interface{}) (Store, error) {
	storeMu.RLock()
	factory, exists := storeRegistry[name]
	storeMu.RUnlock()

	if !exists {
		return nil, errors.Newf("unknown store type: %s", name)
	}

	return factory(config)
}

// ListStores returns all registered store types
func ListStores() []string {
	storeMu.RLock()
	defer storeMu.RUnlock()

	stores := make([]string, 0, len(storeRegistry))
	for name := range storeRegistry {
		stores = append(stores, name)
	}
	sort.Strings(stores)
	return stores
}

func stringOption(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// NewSpaces opens the entities and applications spaces of one backend. With
// sqlite both spaces share one database, owned by the entities store.
func NewSpaces(name string, config map[string]interface{}) (entities, applications Store, err error) {
	shared := make(map[string]interface{}, len(config)+2)
	for k, v := range config {
		shared[k] = v
	}

	if name == "sqlite" {
		if _, ok := shared["db"].(*sql.DB); !ok {
			db, err := OpenSQLite(sqliteConfigFrom(shared))
			if err != nil {
				return nil, nil, err
			}
			shared["db"] = db
			shared["own_db"] = true
		}
	}

	appConfig := make(map[string]interface{}, len(shared))
	for k, v := range shared {
		appConfig[k] = v
	}
	delete(appConfig, "own_db")
	delete(appConfig, "genid_namespace")
	appConfig["space"] = SpaceApplications
	shared["space"] = SpaceEntities

	entities, err = NewStore(name, shared)
	if err != nil {
		if db, ok := shared["db"].(*sql.DB); ok && shared["own_db"] == true {
			db.Close()
		}
		return nil, nil, err
	}
	applications, err = NewStore(name, appConfig)
	if err != nil {
		entities.Close()
		return nil, nil, err
	}
	return entities, applications, nil
}

func sqliteConfigFrom(config map[string]interface{}) SQLiteConfig {
	sqliteConfig := DefaultSQLiteConfig(stringOption(config, "db_path", "olug.db"))

	// Allow overriding config options
	if wal, ok := config["enable_wal"].(bool); ok {
		sqliteConfig.EnableWAL = wal
	}
	if cache, ok := config["cache_size"].(int); ok {
		sqliteConfig.CacheSize = cache
	}
	if timeout, ok := config["busy_timeout"].(int); ok {
		sqliteConfig.BusyTimeout = timeout
	}
	return sqliteConfig
}

// init registers built-in stores
func init() {
	RegisterStore("memory", func(config map[string]interface{}) (Store, error) {
		return NewMemoryStore(
			stringOption(config, "space", SpaceEntities),
			stringOption(config, "genid_namespace", ""),
		), nil
	})

	// "db" shares an open database between spaces, closed on Close when
	// "own_db" is set; otherwise the store opens and owns the file at
	// "db_path"
	RegisterStore("sqlite", func(config map[string]interface{}) (Store, error) {
		space := stringOption(config, "space", SpaceEntities)
		opts := []SQLiteOption{}
		if ns := stringOption(config, "genid_namespace", ""); ns != "" {
			opts = append(opts, WithGenidNamespace(ns))
		}

		if db, ok := config["db"].(*sql.DB); ok {
			if own, _ := config["own_db"].(bool); own {
				opts = append(opts, WithOwnedDB())
			}
			return NewSQLiteStore(db, space, opts...), nil
		}

		db, err := OpenSQLite(sqliteConfigFrom(config))
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db, space, append(opts, WithOwnedDB())...), nil
	})
}
