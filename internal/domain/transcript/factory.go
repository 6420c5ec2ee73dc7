package transcript

import (
	"gorm.io/gorm"

	"meetscribe-server/internal/platform/errors"
)

// Dependencies carries handles some drivers need.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New builds the store named by cfg.Driver; memory when empty.
func New(cfg Config, deps Dependencies) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, errors.New(errors.KindConfig, "transcript.new", "sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, errors.New(errors.KindConfig, "transcript.new", "unsupported transcript store driver: "+cfg.Driver)
	}
}
