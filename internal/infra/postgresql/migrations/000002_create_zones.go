package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/dnsbatch/internal/repository"
	"gorm.io/gorm"
)

func createZonesAndACLRulesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_zones",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ZoneModel{}, &repository.ACLRuleModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_acl_rules_user_id ON acl_rules (user_id) WHERE user_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_acl_rules_group_id ON acl_rules (group_id) WHERE group_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ACLRuleModel{}, &repository.ZoneModel{})
		},
	}
}
