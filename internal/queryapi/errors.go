package queryapi

import (
	"fmt"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
)

var errMissingUID = fmt.Errorf("ws upgrade requires a ?uid= subscription id")

func errUnknownKind(kind string) error {
	return fmt.Errorf("unknown resource kind %q", kind)
}

func errSubscriptionNotFound(id string) error {
	return fmt.Errorf("subscription %s not found", id)
}

func errUnprojectable(kind resource.Kind, id string, ver schema.Version) error {
	return fmt.Errorf("%s %s is not available at %s without query.downgrade", kind, id, ver)
}
