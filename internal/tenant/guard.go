package tenant

import (
	"maps"
	"time"
)

// Reserved metadata keys owned by the system.
const (
	KeyOwnerID = "owner_id"
	KeyFileID  = "file_id"
)

// SystemMetadata is the system-controlled part of a resource's metadata.
type SystemMetadata struct {
	OwnerID   string
	CreatedAt time.Time
}

// CanAccess reports whether principal may see a resource with the given
// merged metadata.
func CanAccess(principal string, metadata map[string]any) bool {
	if principal == "" || metadata == nil {
		return false
	}
	owner, ok := metadata[KeyOwnerID].(string)
	return ok && owner == principal
}

// TenantMetadata returns a copy of m with every system key removed, so a
// tenant-supplied owner_id never reaches storage.
func TenantMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == KeyOwnerID {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns the external view: tenant keys first, system keys last so
// they always win.
func Merge(sys SystemMetadata, tenantMeta map[string]any) map[string]any {
	out := make(map[string]any, len(tenantMeta)+1)
	maps.Copy(out, tenantMeta)
	out[KeyOwnerID] = sys.OwnerID
	return out
}
