package config

import (
	"cmp"
	"slices"
	"strings"
)

// loadOrder ranks module namespaces. Modules that publish shared services
// (the session locker, the webhook dispatcher) load before the channels
// that look them up, and therefore stop after them.
var loadOrder = map[string]int{
	"session": 0,
	"gateway": 1,
}

func rank(id string) int {
	ns, _, _ := strings.Cut(id, ".")
	if r, ok := loadOrder[ns]; ok {
		return r
	}
	return len(loadOrder)
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(cmp.Compare(rank(a), rank(b)), strings.Compare(a, b))
	})
	return ids
}
