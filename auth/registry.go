package auth

import (
	"context"

	"github.com/pkg/errors"
)

// Factory creates a Store from the keys of a config map.
// Which keys it reads depends on the Store type.
type Factory func(ctx context.Context, conf map[string]interface{}) (Store, error)

var registry = make(map[string]Factory)

// Register makes a Store type available to Create under the name typ.
// It is meant to be called from the init function of the package implementing the type.
func Register(typ string, f Factory) {
	registry[typ] = f
}

// Create produces a Store of the type registered as typ.
// The package implementing typ must be imported, perhaps for side effects only.
func Create(ctx context.Context, typ string, conf map[string]interface{}) (Store, error) {
	f, ok := registry[typ]
	if !ok {
		return nil, errors.Errorf("unknown credential store type %q", typ)
	}
	return f(ctx, conf)
}
