package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Photos and similar sets
		{
			ID: "001_photos_and_sets",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes from struct tags
				if err := tx.AutoMigrate(&SimilarSet{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Photo{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("photos", "similar_sets")
			},
		},

		// Migration 002: Surfaced-set lookup index
		{
			ID: "002_sets_surfaced_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sets_surfaced
					ON similar_sets (visible, member_count, timestamp_epoch DESC)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_sets_surfaced").Error
			},
		},
	})

	return m.Migrate()
}
