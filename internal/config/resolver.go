package config

import (
	"cmp"
	"slices"
)

// startOrder ranks modules so dependencies start before their consumers
// and reverse-order shutdown disposes them safely: the gateway drains
// first, background producers stop before the services they write to,
// and the store checkpoints and closes last (after the tracer flushes).
var startOrder = map[string]int{
	"tracing.otel":      5,
	"store.sqlite":      10,
	"embedder.local":    20,
	"memory.service":    30,
	"retention.janitor": 40,
	"monitor.screen":    50,
	"skills.manager":    55,
	"cron.scheduler":    60,
	"gateway.http":      70,
}

// Resolve returns the module IDs from the configuration in start order.
// Unranked modules sort after ranked ones, alphabetically, keeping the
// load order deterministic.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func rank(id string) int {
	if r, ok := startOrder[id]; ok {
		return r
	}
	return 1000
}
