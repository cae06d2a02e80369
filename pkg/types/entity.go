package types

import "time"

// EntityStatus tracks a cached entity's local sync state.
type EntityStatus string

const (
	EntityStatusSynced      EntityStatus = "synced"
	EntityStatusPendingSync EntityStatus = "pending_sync"
	EntityStatusConflict    EntityStatus = "conflict"
)

// DeliveryTier classifies a delivery by retention priority. Tier 1 is
// terrain-critical and never evicted; Tier 3 is optional analytics data.
// Invariant 5 and the eviction policy in quota reference this directly.
type DeliveryTier int

const (
	DeliveryTier1 DeliveryTier = 1
	DeliveryTier2 DeliveryTier = 2
	DeliveryTier3 DeliveryTier = 3
)

// EntityMeta holds the fields common to every cached entity (invariant 6,
// §3 Cached entity). Embed it rather than duplicating Cache/Sync bookkeeping
// on each entity type.
type EntityMeta struct {
	ID              string // client-generated UUID v4 (invariant 8)
	CooperativeID   string
	Name            string
	NameNorm        string // deterministic function of Name (invariant 6)
	ServerUpdatedAt time.Time
	CachedAt        time.Time
	SyncedAt        time.Time
}

// Planter is a terrain cocoa producer.
type Planter struct {
	EntityMeta
	Code               string // unique, indexed by-code
	ChefPlanteurID     string
	Phone              string
	CNI                string
	Location           string
	ValidationWarnings []string
}

// ChefPlanteur supervises a group of planters within a cooperative.
type ChefPlanteur struct {
	EntityMeta
	Code               string
	Phone              string
	Location           string
	ValidationWarnings []string
}

// Warehouse is a cooperative storage or weighing site.
type Warehouse struct {
	EntityMeta
	Code               string
	Location           string
	ValidationWarnings []string
}

// Delivery records a single cocoa delivery event. Unlike the other three
// entities, deliveries carry a retention Tier and a local sync Status, and
// most conflict-critical fields live here (§4.3).
type Delivery struct {
	EntityMeta
	Tier               DeliveryTier
	Status             EntityStatus
	PlanteurID         string
	WarehouseID        string
	Date               time.Time
	WeightKg           float64
	PricePerKg         float64
	TotalAmount        float64
	PaymentStatus      string
	PaymentAmountPaid  float64
	QualityGrade       string
	Notes              string
	Metadata           map[string]string
	ValidationWarnings []string
}

// DeliveryTierFor computes the retention tier from a delivery date and the
// current time, per the lifecycle rule in §3: "days_since_delivered < 8 →
// 1; < 31 → 2; else 3".
func DeliveryTierFor(deliveredAt, now time.Time) DeliveryTier {
	days := int(now.Sub(deliveredAt).Hours() / 24)
	switch {
	case days < 8:
		return DeliveryTier1
	case days < 31:
		return DeliveryTier2
	default:
		return DeliveryTier3
	}
}
