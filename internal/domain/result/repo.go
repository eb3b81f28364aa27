package result

import (
	"context"

	"github.com/ehr/warehouse/pkg/resource"
)

// Repository persists query results. Implementations return an error
// marked failure.NotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, r *resource.Result) error
	GetByID(ctx context.Context, id string) (*resource.Result, error)
	Update(ctx context.Context, r *resource.Result) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*resource.Result, int, error)
}
