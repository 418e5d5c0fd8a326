package model

import "gorm.io/gorm"

// allModels lists every model to be auto-migrated.
var allModels = []interface{}{
	&Guild{},
	&Registration{},
	&Mercenary{},
	&MessageTemplate{},
}

// AutoMigrate creates or updates all tables in the given database.
// The (guild_id, boss_date) unique index on registrations is created
// here, so the one-registration-per-pair invariant holds from first boot.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels...)
}
