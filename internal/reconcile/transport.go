package reconcile

import (
	"context"

	"nithronos/nosvol/internal/topology"
)

// Transport issues remote requests. Request must not block on the remote
// side: it returns a correlation ID at once and the outcome arrives later as
// a resolution event.
type Transport interface {
	Request(ctx context.Context, method string, args any) (string, error)
}

const (
	MethodQuery          = "volume.query"
	MethodAvailableDisks = "volume.get_available_disks"
	MethodCreate         = "volume.create"
	MethodDestroy        = "volume.destroy"
)

// CreateArgs are the volume.create arguments. GUIID is echoed back by the
// server on the created entity.
type CreateArgs struct {
	Name       string            `json:"name"`
	Topology   topology.Topology `json:"topology"`
	GUIID      string            `json:"guiId"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type DestroyArgs struct {
	ID string `json:"id"`
}
