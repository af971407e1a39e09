package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ResourceLedger is the authoritative count of units for one allocatable
// resource (a drop, SKU or seat pool). It is the only row contended at
// high frequency, so every mutation is an atomic conditional update
// guarded by Version.
type ResourceLedger struct {
	bun.BaseModel `bun:"table:resource_ledgers"`

	ResourceID        string    `bun:"resource_id,pk" json:"resource_id"`
	TotalQuantity     int       `bun:"total_quantity,notnull" json:"total_quantity"`
	ReservedQuantity  int       `bun:"reserved_quantity,notnull,default:0" json:"reserved_quantity"`
	CommittedQuantity int       `bun:"committed_quantity,notnull,default:0" json:"committed_quantity"`
	Version           int64     `bun:"version,notnull,default:0" json:"version"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Available is always derived, never stored.
func (l *ResourceLedger) Available() int {
	return l.TotalQuantity - l.ReservedQuantity - l.CommittedQuantity
}
