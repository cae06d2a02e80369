package conflict

import "github.com/cuemby/cocoasync/pkg/types"

// Strategy is the per-field resolution strategy a table's conflict
// classification assigns (§4.3).
type Strategy string

const (
	StrategyCritical   Strategy = "user_chooses"
	StrategyMergeable  Strategy = "auto_merge"
	StrategyServerWins Strategy = "server_wins"
)

// classification holds one table's disjoint critical/mergeable field
// sets (§4.3 invariant: "critical and mergeable field sets are
// disjoint per table"). Fields not listed in either set fall back to
// StrategyServerWins.
type classification struct {
	critical  map[string]bool
	mergeable map[string]bool
}

// registry is the per-table classification (§4.3 examples). Deliveries
// carries the spec's explicit example lists verbatim; planters,
// chef-planteurs and warehouses have no financial fields, so only
// their shared contact/location fields are classified mergeable and
// everything else (including code, name) falls back to server_wins.
var registry = map[string]classification{
	types.TableDeliveries: {
		critical: set("weight_kg", "price_per_kg", "total_amount", "payment_status",
			"payment_amount_paid", "planteur_id"),
		mergeable: set("notes", "metadata", "quality_grade"),
	},
	types.TablePlanters: {
		critical:  set(),
		mergeable: set("phone", "location", "cni"),
	},
	types.TableChefPlanteurs: {
		critical:  set(),
		mergeable: set("phone", "location"),
	},
	types.TableWarehouses: {
		critical:  set(),
		mergeable: set("location"),
	},
}

func set(fields ...string) map[string]bool {
	m := make(map[string]bool, len(fields))
	for _, f := range fields {
		m[f] = true
	}
	return m
}

// strategyFor returns the resolution strategy for one field of one
// table.
func strategyFor(table, field string) Strategy {
	c, ok := registry[table]
	if !ok {
		return StrategyServerWins
	}
	if c.critical[field] {
		return StrategyCritical
	}
	if c.mergeable[field] {
		return StrategyMergeable
	}
	return StrategyServerWins
}
