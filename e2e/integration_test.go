//go:build e2e

// Package e2e contains end-to-end tests against real DynamoDB tables and,
// when STRATA_E2E_MONGO_URI is set, a real MongoDB deployment.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/strata/adapters/dynamo"
	"github.com/jacentio/strata/adapters/mongo"
	"github.com/jacentio/strata/store"
)

const (
	defaultProfile = "jacent-alpha-cp"

	// Table names are unique per test run to avoid conflicts
	tablePrefix = "strata-e2e-test"
)

var (
	testID    string
	tenants   = []string{store.DefaultTenant, "acme"}
	ddbClient *dynamodb.Client
)

func tableFor(tenant string) string {
	if tenant == store.DefaultTenant {
		return fmt.Sprintf("%s-%s", tablePrefix, testID)
	}
	return fmt.Sprintf("%s-%s_%s", tablePrefix, testID, tenant)
}

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	fmt.Printf("Test ID: %s\n", testID)

	profile := os.Getenv("STRATA_E2E_AWS_PROFILE")
	if profile == "" {
		profile = defaultProfile
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile))
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	deleteTables(ctx)
	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")
	for _, tenant := range tenants {
		name := tableFor(tenant)
		_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}

	for _, tenant := range tenants {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableFor(tenant)),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableFor(tenant), err)
		}
	}
	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) {
	fmt.Println("Deleting test tables...")
	for _, tenant := range tenants {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableFor(tenant)),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableFor(tenant), err)
		}
	}
}

// recorder collects change events.
type recorder struct {
	events []store.ChangeEvent
}

func (r *recorder) hook(_ context.Context, ev store.ChangeEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func newDynamoStore(t *testing.T, mutate func(*store.Config)) (*store.Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg := store.DefaultConfig()
	cfg.Adapter = func(_ context.Context, tenant string) (store.Adapter, error) {
		return dynamo.New(dynamo.Config{Client: ddbClient, Table: tableFor(tenant)}), nil
	}
	cfg.TenantKey = store.TenantFromContext
	cfg.AutoReconnect = false
	cfg.OnEntityChanged = rec.hook
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for _, tenant := range tenants {
			if _, err := s.Clear(store.WithTenant(ctx, tenant), store.Params{}); err != nil {
				t.Logf("clear %s: %v", tenant, err)
			}
		}
		_ = s.DisconnectAll(ctx)
	})
	return s, rec
}

// --- DynamoDB Tests ---

func TestDynamo_CreateResolveUpdateRemove(t *testing.T) {
	s, rec := newDynamoStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, store.Entity{"name": "Ada", "age": 36}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected generated id, got %v", created)
	}

	res, err := s.Resolve(ctx, store.Params{"id": id}, store.CallOptions{ThrowIfNotExist: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Entity["name"] != "Ada" {
		t.Errorf("expected name Ada, got %v", res.Entity["name"])
	}

	updated, err := s.Update(ctx, store.Params{"id": id, "age": 37}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated["age"] != float64(37) {
		t.Errorf("expected age 37, got %v", updated["age"])
	}

	removed, err := s.Remove(ctx, store.Params{"id": id}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed != id {
		t.Errorf("expected removed id %q, got %v", id, removed)
	}

	_, err = s.Resolve(ctx, store.Params{"id": id}, store.CallOptions{ThrowIfNotExist: true})
	var nf *store.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}

	seen := make([]store.ChangeType, 0, len(rec.events))
	for _, ev := range rec.events {
		seen = append(seen, ev.Type)
	}
	want := []store.ChangeType{store.ChangeCreate, store.ChangeUpdate, store.ChangeRemove}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("expected events %v, got %v", want, seen)
	}
}

func TestDynamo_CreateDuplicate(t *testing.T) {
	s, _ := newDynamoStore(t, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, store.Entity{"id": "dup"}, store.CallOptions{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := s.Create(ctx, store.Entity{"id": "dup"}, store.CallOptions{})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDynamo_CreateManyFindCount(t *testing.T) {
	s, rec := newDynamoStore(t, nil)
	ctx := context.Background()

	payloads := make([]store.Entity, 30)
	for i := range payloads {
		payloads[i] = store.Entity{"id": fmt.Sprintf("e%02d", i), "n": i, "even": i%2 == 0}
	}
	if _, err := s.CreateMany(ctx, payloads, store.CallOptions{}); err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	if len(rec.events) != 1 || !rec.events[0].Batch {
		t.Errorf("expected one batch event, got %+v", rec.events)
	}

	n, err := s.Count(ctx, store.Params{"query": map[string]any{"even": true}})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 15 {
		t.Errorf("expected 15 even entities, got %d", n)
	}

	page, err := s.Find(ctx, store.Params{"sort": "-n", "pageSize": 5, "page": 2}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(page) != 5 || page[0]["n"] != float64(24) {
		t.Errorf("expected page starting at n=24, got %v", page)
	}

	cur, err := s.Stream(ctx, store.Params{"query": map[string]any{"even": false}}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	streamed, err := store.Collect(ctx, cur)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(streamed) != 15 {
		t.Errorf("expected 15 streamed entities, got %d", len(streamed))
	}
}

func TestDynamo_SoftDeleteHidesEntity(t *testing.T) {
	s, rec := newDynamoStore(t, func(c *store.Config) {
		c.SoftDelete = true
		c.Validator = store.ValidatorFunc(func(_ context.Context, p store.Entity, o store.ValidateOptions) (store.Entity, error) {
			if o.Type == store.ValidateRemove {
				return store.Entity{"ttl": time.Now().Unix()}, nil
			}
			return p, nil
		})
	})
	ctx := context.Background()

	if _, err := s.Create(ctx, store.Entity{"id": "soft", "name": "Grace"}, store.CallOptions{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Remove(ctx, store.Params{"id": "soft"}, store.CallOptions{}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != store.ChangeRemove || !last.SoftDelete {
		t.Errorf("expected soft remove event, got %+v", last)
	}

	time.Sleep(1100 * time.Millisecond)
	res, err := s.Resolve(ctx, store.Params{"id": "soft"}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Entity != nil {
		t.Errorf("expected soft-deleted entity to be hidden, got %v", res.Entity)
	}
}

func TestDynamo_TenantIsolation(t *testing.T) {
	s, _ := newDynamoStore(t, nil)
	acme := store.WithTenant(context.Background(), "acme")

	if _, err := s.Create(acme, store.Entity{"id": "t1"}, store.CallOptions{}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := s.Count(context.Background(), store.Params{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected default tenant to be empty, got %d", n)
	}
	n, err = s.Count(acme, store.Params{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 entity for acme, got %d", n)
	}
}

// --- MongoDB Tests ---

func TestMongo_RoundTrip(t *testing.T) {
	uri := os.Getenv("STRATA_E2E_MONGO_URI")
	if uri == "" {
		t.Skip("STRATA_E2E_MONGO_URI not set")
	}
	ctx := context.Background()

	cfg := store.DefaultConfig()
	cfg.Primary = store.PrimaryField{Name: "id", Column: "_id"}
	cfg.AutoReconnect = false
	cfg.Indexes = []store.Index{{Fields: []string{"email"}, Unique: true}}
	cfg.Adapter = func(_ context.Context, tenant string) (store.Adapter, error) {
		return mongo.New(mongo.Config{
			URI:        uri,
			Database:   "strata_e2e",
			Collection: fmt.Sprintf("entities_%s_%s", testID, tenant),
		}), nil
	}
	s, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.Clear(ctx, store.Params{})
		_ = s.DisconnectAll(ctx)
	})

	names := []string{"Ada", "Grace", "Alan"}
	for _, name := range names {
		if _, err := s.Create(ctx, store.Entity{"name": name, "email": name + "@example.com"}, store.CallOptions{}); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
	}
	_, err = s.Create(ctx, store.Entity{"name": "Ada", "email": "Ada@example.com"}, store.CallOptions{})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected unique index violation, got %v", err)
	}

	found, err := s.Find(ctx, store.Params{"sort": "name", "search": "a"}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	got := make([]string, 0, len(found))
	for _, e := range found {
		got = append(got, e["name"].(string))
		if _, ok := e["_id"]; ok {
			t.Errorf("expected storage column to be renamed, got %v", e)
		}
	}
	if !sort.StringsAreSorted(got) || len(got) != 3 {
		t.Errorf("expected 3 sorted names, got %v", got)
	}

	id := found[0]["id"]
	updated, err := s.Update(ctx, store.Params{"id": id, "role": "admin"}, store.CallOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated["role"] != "admin" {
		t.Errorf("expected role admin, got %v", updated)
	}
}
