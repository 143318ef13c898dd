package config

import (
	"log/slog"
	"sort"
	"sync"
)

var (
	deprecationMu   sync.Mutex
	deprecationSeen = map[string]bool{}
)

// warnDeprecated logs the legacy-form notice for kind once per process.
func warnDeprecated(logger *slog.Logger, kind string, d map[string]any) {
	deprecationMu.Lock()
	seen := deprecationSeen[kind]
	deprecationSeen[kind] = true
	deprecationMu.Unlock()
	if seen {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logger.Warn("passing a "+kind+" config as a map is deprecated; build a config."+typeNames[kind]+" instead",
		"kind", kind, "keys", keys)
}

var typeNames = map[string]string{
	kindFuse:    "FuseConfig",
	kindPrepare: "PrepareConfig",
	kindConvert: "ConvertConfig",
	kindBackend: "BackendConfig",
}

const (
	kindFuse    = "fuse"
	kindPrepare = "prepare"
	kindConvert = "convert"
	kindBackend = "backend"
)

func resetDeprecations() {
	deprecationMu.Lock()
	defer deprecationMu.Unlock()
	deprecationSeen = map[string]bool{}
}
