//go:build integration

package metadata

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/ferry/internal/testutils"
)

func TestIntegrationDynamo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env := testutils.StartDynamoContainer(t, ctx)
	defer env.Close(ctx)

	// Subtests share one server; each gets a fresh table.
	var tables atomic.Int32
	testStore(t, func(t *testing.T) Store {
		url := env.TableURL(fmt.Sprintf("ferry-chunks-%d", tables.Add(1)))
		s, err := Open(ctx, url, discardLogger())
		if err != nil {
			t.Fatalf("Open(%s): %v", url, err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
