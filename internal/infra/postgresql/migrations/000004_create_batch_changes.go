package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"gorm.io/gorm"
)

func createBatchChangesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_batch_changes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchChangeModel{}, &repository.SingleChangeModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_changes_user_listing ON batch_changes (user_id, created_timestamp, id)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_changes_retry ON batch_changes (next_retry_at) WHERE status = 'Pending' AND next_retry_at IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_single_changes_batch_seq ON single_changes (batch_change_id, seq)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SingleChangeModel{}, &repository.BatchChangeModel{})
		},
	}
}
