package stores_test

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/bindkit/bindkit/pkg/discovery"
	"github.com/bindkit/bindkit/pkg/stores"
)

// Example demonstrates persisting a discovery run and reading it back.
func Example() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join("/tmp", fmt.Sprintf("bindkit-example-%d.db", time.Now().UnixNano())),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	result := &discovery.Result{
		RunID:       "example-run",
		Environment: "development",
		ModuleCount: 1,
		Descriptors: []discovery.ComponentDescriptor{
			{
				Contract:       "acme/workers.IUserWorker",
				Implementation: "acme/workers.UserWorker",
				Lifecycle:      discovery.LifecycleSingleton,
			},
		},
		StartedAt: time.Now(),
		Duration:  40 * time.Millisecond,
	}
	if err := store.SaveRun(ctx, result); err != nil {
		log.Fatal(err)
	}

	run, err := store.GetRun(ctx, "example-run")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: %d module, %d descriptor\n", run.Environment, run.ModuleCount, run.DescriptorCount)

	// Output:
	// development: 1 module, 1 descriptor
}
