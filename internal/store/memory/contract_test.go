package memory

import (
	"testing"

	"github.com/mango-chat/mango-server/internal/store"
	"github.com/mango-chat/mango-server/internal/store/storetest"
)

// TestContract runs the backend-equivalence suite against the reference
// implementation. The relational backend runs the identical scripts in
// internal/store/pg.
func TestContract(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store {
		return New()
	})
}
