package resolver

import (
	"fmt"
	"strconv"

	"github.com/hupe1980/slicemap/href"
	"github.com/hupe1980/slicemap/model"
)

// BasicResolver resolves the references that carry their own location:
// direct node links and raw slices.
type BasicResolver struct{}

// Resolve implements Resolver.
func (BasicResolver) Resolve(ref href.Reference) (Result, error) {
	switch ref.Kind {
	case href.KindDirect:
		return Resolved(Direct(ref.ID)), nil
	case href.KindSlice:
		return Resolved(model.LocationOf(ref.Slice)), nil
	}
	return Result{}, wrap(ref, fmt.Errorf("%w: %s", ErrUnsupportedReference, ref.Kind))
}

// Direct returns the location of a node stored by id rather than in a blob.
func Direct(id model.NodeID) model.ConcreteLocation {
	return model.ConcreteLocation{Path: "id:" + strconv.FormatUint(id, 10)}
}
