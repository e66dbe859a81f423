package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"gorm.io/gorm"
)

func createRecordSetsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_record_sets",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecordSetModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_record_sets_zone_name_type ON record_sets (zone_id, name, type)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecordSetModel{})
		},
	}
}
