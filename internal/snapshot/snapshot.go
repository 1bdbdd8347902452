package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// Persister durably records one snapshot
type Persister interface {
	Persist(ctx context.Context, snap models.Snapshot) error
}

// StoreError reports a snapshot that a backend could not record
type StoreError struct {
	Backend string
	Kind    models.FeedKind
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store (%s): %v", e.Backend, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Multi fans a snapshot out to every backend. A failing backend does not stop the others.
type Multi []Persister

func (m Multi) Persist(ctx context.Context, snap models.Snapshot) error {
	var errs []error
	for _, p := range m {
		if err := p.Persist(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
