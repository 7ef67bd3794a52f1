package max_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aretw0/max"
	"github.com/aretw0/max/pkg/domain"
)

// ExampleOpen embeds a workspace with one in-memory installation.
func ExampleOpen() {
	root, err := os.MkdirTemp("", "max-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	cfg := `workspace: demo
installations:
  people:
    options:
      connector: memory
      settings:
        entities:
          - name: user
            records: [{id: ada}, {id: grace}, {id: linus}]
autostart: [people]
`
	if err := os.WriteFile(filepath.Join(root, "max.yaml"), []byte(cfg), 0o644); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	eng, err := max.Open(ctx, root)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(ctx)

	rec, err := eng.Sync(ctx, "people")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("sync", rec.Status)

	res, err := eng.Query(ctx, domain.Query{Entity: "user", Limit: 2})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("records", len(res.Sets[0].Records), "truncated", res.Sets[0].Truncated)
	// Output:
	// sync succeeded
	// records 2 truncated true
}
