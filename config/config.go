// Package config loads store and adapter settings from an optional YAML
// file and the environment. A .env file in the working directory is loaded
// automatically.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/strata/adapters/dynamo"
	"github.com/jacentio/strata/adapters/memory"
	"github.com/jacentio/strata/adapters/mongo"
	"github.com/jacentio/strata/adapters/sqlite"
	"github.com/jacentio/strata/store"
)

// Adapter kinds.
const (
	AdapterMemory = "memory"
	AdapterSQLite = "sqlite"
	AdapterDynamo = "dynamo"
	AdapterMongo  = "mongo"
)

// ErrUnknownAdapter is returned for an unsupported adapter kind.
var ErrUnknownAdapter = errors.New("strata: unknown adapter")

// File is the loaded configuration.
type File struct {
	Adapter       string `yaml:"adapter"`
	PageSize      int    `yaml:"pageSize"`
	MaxLimit      int    `yaml:"maxLimit"`
	SoftDelete    bool   `yaml:"softDelete"`
	AutoReconnect *bool  `yaml:"autoReconnect"`

	// CacheEvent enables cache broadcasts on this channel when set.
	CacheEvent string `yaml:"cacheEvent"`
	RedisAddr  string `yaml:"redisAddr"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Dynamo DynamoConfig `yaml:"dynamo"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Memory MemoryConfig `yaml:"memory"`
}

type SQLiteConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
	Debug bool   `yaml:"debug"`
}

type DynamoConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type MemoryConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at path, when path is not empty, and overlays
// STRATA_* environment variables.
func Load(path string) (*File, error) {
	f := &File{Adapter: AdapterMemory}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := f.applyEnv(); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) applyEnv() error {
	strs := map[string]*string{
		"STRATA_ADAPTER":          &f.Adapter,
		"STRATA_CACHE_EVENT":      &f.CacheEvent,
		"STRATA_REDIS_ADDR":       &f.RedisAddr,
		"STRATA_SQLITE_DSN":       &f.SQLite.DSN,
		"STRATA_DYNAMO_TABLE":     &f.Dynamo.Table,
		"STRATA_DYNAMO_REGION":    &f.Dynamo.Region,
		"STRATA_DYNAMO_ENDPOINT":  &f.Dynamo.Endpoint,
		"STRATA_MONGO_URI":        &f.Mongo.URI,
		"STRATA_MONGO_DATABASE":   &f.Mongo.Database,
		"STRATA_MONGO_COLLECTION": &f.Mongo.Collection,
		"STRATA_MEMORY_PATH":      &f.Memory.Path,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STRATA_PAGE_SIZE": &f.PageSize,
		"STRATA_MAX_LIMIT": &f.MaxLimit,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("STRATA_SOFT_DELETE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STRATA_SOFT_DELETE: %w", err)
		}
		f.SoftDelete = b
	}
	if v, ok := lookup("STRATA_AUTO_RECONNECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STRATA_AUTO_RECONNECT: %w", err)
		}
		f.AutoReconnect = &b
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (f *File) validate() error {
	f.Adapter = strings.ToLower(f.Adapter)
	switch f.Adapter {
	case "":
		f.Adapter = AdapterMemory
	case AdapterMemory, AdapterSQLite, AdapterDynamo, AdapterMongo:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, f.Adapter)
	}
	if f.Adapter == AdapterSQLite && f.SQLite.DSN == "" {
		return errors.New("strata: sqlite adapter requires a dsn")
	}
	if f.Adapter == AdapterDynamo && f.Dynamo.Table == "" {
		return errors.New("strata: dynamo adapter requires a table")
	}
	if f.Adapter == AdapterMongo && (f.Mongo.URI == "" || f.Mongo.Database == "") {
		return errors.New("strata: mongo adapter requires a uri and database")
	}
	if f.Mongo.Collection == "" {
		f.Mongo.Collection = "entities"
	}
	return nil
}

// StoreConfig maps the file onto a store configuration. Broadcaster and
// hooks are left for the caller.
func (f *File) StoreConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Adapter = f.AdapterFactory()
	if f.PageSize > 0 {
		cfg.DefaultPageSize = f.PageSize
	}
	cfg.MaxLimit = f.MaxLimit
	cfg.SoftDelete = f.SoftDelete
	if f.AutoReconnect != nil {
		cfg.AutoReconnect = *f.AutoReconnect
	}
	if f.CacheEvent != "" {
		cfg.Cache = store.CacheConfig{Enabled: true, EventName: f.CacheEvent}
	}
	if f.Adapter == AdapterMongo {
		cfg.Primary = store.PrimaryField{Name: "id", Column: "_id"}
	}
	cfg.TenantKey = store.TenantFromContext
	return cfg
}

// AdapterFactory builds the configured adapter. Tenants other than the
// default one get their own table, collection or file.
func (f *File) AdapterFactory() store.AdapterFactory {
	return func(ctx context.Context, tenant string) (store.Adapter, error) {
		switch f.Adapter {
		case AdapterSQLite:
			a, err := sqlite.New(sqlite.Config{
				DSN:   f.SQLite.DSN,
				Table: suffix(orDefault(f.SQLite.Table, "entities"), tenant),
				Debug: f.SQLite.Debug,
			})
			if err != nil {
				return nil, err
			}
			return a, nil
		case AdapterDynamo:
			client, err := dynamo.NewClient(ctx, f.Dynamo.Region, f.Dynamo.Endpoint)
			if err != nil {
				return nil, err
			}
			return dynamo.New(dynamo.Config{
				Client: client,
				Table:  suffix(f.Dynamo.Table, tenant),
			}), nil
		case AdapterMongo:
			return mongo.New(mongo.Config{
				URI:        f.Mongo.URI,
				Database:   f.Mongo.Database,
				Collection: suffix(f.Mongo.Collection, tenant),
			}), nil
		case AdapterMemory:
			return memory.New(memory.Config{Path: suffixPath(f.Memory.Path, tenant)}), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, f.Adapter)
	}
}

func suffix(name, tenant string) string {
	if tenant == "" || tenant == store.DefaultTenant {
		return name
	}
	return name + "_" + tenant
}

// suffixPath inserts the tenant before the file extension.
func suffixPath(path, tenant string) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return suffix(strings.TrimSuffix(path, ext), tenant) + ext
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
