package record

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/storage"
)

// Open returns the store named by kind: "postgres" or "memory". The
// Postgres store connects lazily; callers that want to wait for the
// database run Bootstrap on it.
func Open(kind string, cfg storage.Config, log zerolog.Logger) (Store, error) {
	switch kind {
	case "postgres", "":
		return NewPostgresStore(cfg, log), nil
	case "memory":
		log.Warn().Msg("using in-memory delivery record store; records are lost on restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown record store: %s", kind)
	}
}
