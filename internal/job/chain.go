package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/kode4food/buildflow/pkg/api"
)

// Resolvers consults each resolver in order. A resolver that does not know
// the job passes it on to the next one
type Resolvers []Resolver

var _ Resolver = Resolvers(nil)

// Resolve returns the job from the first resolver that knows it
func (r Resolvers) Resolve(
	ctx context.Context, name api.JobName,
) (Job, error) {
	for _, res := range r {
		j, err := res.Resolve(ctx, name)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		return j, err
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}
