package app

// The compiled-in module set. Each import registers its module with the
// core registry at init time; config.Resolve decides which of them a
// given configuration actually loads.
import (
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/cron"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/gateway"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/monitor"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/retention"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/skills"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/tracing"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/modules/embedder/local"
	_ "github.com/lukaizhi5559/thinkdrop-user-memory-service/modules/store/sqlite"
)
