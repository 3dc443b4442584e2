package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jobstarter/jobstarter/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: stores.MemoryPath,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_ListEnvironments records two environments and lists one job's history.
func ExampleSQLiteStore_ListEnvironments() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	for i, job := range []string{"orders", "billing"} {
		_ = store.RecordEnvironment(ctx, &stores.Environment{
			ID:         fmt.Sprintf("env-%d", i),
			JobName:    job,
			Mode:       "BATCH",
			Family:     "table",
			Status:     stores.EnvironmentStatusPrepared,
			CreatedAt:  now,
			RecordedAt: now,
		}, nil)
	}

	envs, err := store.ListEnvironments(ctx, stores.EnvironmentFilter{JobName: "orders"})
	if err != nil {
		log.Fatal(err)
	}
	for _, env := range envs {
		fmt.Println(env.ID, env.JobName, env.Status)
	}
	// Output: env-0 orders prepared
}
