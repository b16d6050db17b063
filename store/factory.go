package store

import "fmt"

// New creates the store bundle for the configured backend. The memory
// backend is the default.
func New(cfg Config) (*Stores, error) {
	switch cfg.Type {
	case BackendMemory, "":
		mem := NewMemoryStore()
		return &Stores{Definitions: mem, Instances: mem, Checkpoints: mem}, nil
	case BackendRedis:
		rs, err := NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Stores{Definitions: rs, Instances: rs, Checkpoints: rs}, nil
	case BackendSQL:
		ss, err := NewSQLStore(cfg.SQL)
		if err != nil {
			return nil, err
		}
		return &Stores{Definitions: ss, Instances: ss, Checkpoints: ss}, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Type)
	}
}
