package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Store, Service and Technician are owned by the catalog; the scheduling engine only reads them.

type Store struct {
	bun.BaseModel `bun:"table:stores,alias:st"`

	ID       uuid.UUID `bun:"id,pk,type:uuid"`
	Name     string    `bun:"name,notnull"`
	IsActive bool      `bun:"is_active,notnull"`
}

type Service struct {
	bun.BaseModel `bun:"table:services,alias:s"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	StoreID         uuid.UUID `bun:"store_id,notnull,type:uuid"`
	Name            string    `bun:"name,notnull"`
	DurationMinutes int       `bun:"duration_minutes,notnull"`
	PriceCents      int64     `bun:"price_cents,notnull"`
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Technician struct {
	bun.BaseModel `bun:"table:technicians,alias:t"`

	ID       uuid.UUID `bun:"id,pk,type:uuid"`
	StoreID  uuid.UUID `bun:"store_id,notnull,type:uuid"`
	Name     string    `bun:"name,notnull"`
	IsActive bool      `bun:"is_active,notnull"`
}
