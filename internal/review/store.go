package review

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linnemanlabs/overwatch/internal/entity"
)

// Record is one stored entity: the full current state serialized as
// JSON, keyed by Ref.Key().
type Record struct {
	Ref       entity.Ref      `json:"ref"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the persistence interface for entity records and the audit
// trail. Implementations must make Put atomic per record; the engine
// serializes conflicting writers above this layer.
type Store interface {
	Get(ctx context.Context, ref entity.Ref) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, ref entity.Ref) error
	List(ctx context.Context, typ entity.Type) ([]Record, error)
	AppendAudit(ctx context.Context, rec *AuditRecord) error
	AuditFor(ctx context.Context, entityID string) ([]AuditRecord, error)
}
