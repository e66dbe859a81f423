package repository

import (
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"gorm.io/datatypes"
)

// BatchChangeModel is the persistence model for the batch_changes table.
type BatchChangeModel struct {
	ID               string                   `gorm:"type:uuid;primaryKey"`
	UserID           string                   `gorm:"type:varchar(255);not null"`
	UserName         string                   `gorm:"type:varchar(255);not null"`
	Comments         *string                  `gorm:"type:text"`
	CreatedTimestamp time.Time                `gorm:"type:timestamptz;not null"`
	Status           domain.BatchChangeStatus `gorm:"type:varchar(20);not null"`
	TotalChanges     int                      `gorm:"not null"`
	NextRetryAt      *time.Time               `gorm:"type:timestamptz"`
	UpdatedAt        time.Time
	Changes          []SingleChangeModel `gorm:"foreignKey:BatchChangeID;constraint:OnDelete:CASCADE"`
}

func (BatchChangeModel) TableName() string {
	return "batch_changes"
}

// SingleChangeModel is the persistence model for the single_changes table.
type SingleChangeModel struct {
	ID            string                               `gorm:"type:uuid;primaryKey"`
	BatchChangeID string                               `gorm:"type:uuid;not null"`
	Seq           int                                  `gorm:"not null"`
	ChangeType    domain.ChangeType                    `gorm:"type:varchar(20);not null"`
	InputName     string                               `gorm:"type:varchar(255);not null"`
	RecordName    string                               `gorm:"type:varchar(255);not null"`
	ZoneName      string                               `gorm:"type:varchar(255);not null"`
	ZoneID        string                               `gorm:"type:varchar(255);not null"`
	RecordSetID   *string                              `gorm:"type:varchar(255)"`
	RecordType    domain.RecordType                    `gorm:"type:varchar(10);not null"`
	TTL           *int                                 `gorm:"type:int"`
	RecordData    datatypes.JSONType[domain.RecordData] `gorm:"type:jsonb"`
	Status        domain.SingleChangeStatus            `gorm:"type:varchar(20);not null"`
	SystemMessage *string                              `gorm:"type:text"`
	Attempts      int                                  `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}

func (SingleChangeModel) TableName() string {
	return "single_changes"
}

// UserModel is the persistence model for users.
type UserModel struct {
	ID        string                      `gorm:"type:varchar(255);primaryKey"`
	UserName  string                      `gorm:"type:varchar(255);not null"`
	AccessKey string                      `gorm:"type:varchar(255);not null;uniqueIndex"`
	SecretKey string                      `gorm:"type:varchar(255);not null"`
	GroupIDs  datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// ZoneModel is the persistence model for zones.
type ZoneModel struct {
	ID           string `gorm:"type:varchar(255);primaryKey"`
	Name         string `gorm:"type:varchar(255);not null;uniqueIndex"`
	AdminGroupID string `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
}

func (ZoneModel) TableName() string {
	return "zones"
}

// ACLRuleModel is the persistence model for zone ACL rules.
type ACLRuleModel struct {
	ID          string                                 `gorm:"type:uuid;primaryKey"`
	ZoneID      string                                 `gorm:"type:varchar(255);not null;index"`
	UserID      *string                                `gorm:"type:varchar(255)"`
	GroupID     *string                                `gorm:"type:varchar(255)"`
	AccessLevel domain.AccessLevel                     `gorm:"type:varchar(20);not null"`
	RecordMask  *string                                `gorm:"type:varchar(255)"`
	RecordTypes datatypes.JSONSlice[domain.RecordType] `gorm:"type:jsonb"`
	Description string                                 `gorm:"type:text"`
	CreatedAt   time.Time
}

func (ACLRuleModel) TableName() string {
	return "acl_rules"
}

// RecordSetModel is the persistence model for live record sets.
type RecordSetModel struct {
	ID        string                                `gorm:"type:uuid;primaryKey"`
	ZoneID    string                                `gorm:"type:varchar(255);not null"`
	Name      string                                `gorm:"type:varchar(255);not null"`
	Type      domain.RecordType                     `gorm:"type:varchar(10);not null"`
	TTL       int                                   `gorm:"not null"`
	Records   datatypes.JSONSlice[domain.RecordData] `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RecordSetModel) TableName() string {
	return "record_sets"
}

func batchChangeModelFromDomain(b *domain.BatchChange) *BatchChangeModel {
	if b == nil {
		return nil
	}

	changes := make([]SingleChangeModel, 0, len(b.Changes))
	for i := range b.Changes {
		changes = append(changes, *singleChangeModelFromDomain(&b.Changes[i]))
	}

	return &BatchChangeModel{
		ID:               b.ID,
		UserID:           b.UserID,
		UserName:         b.UserName,
		Comments:         b.Comments,
		CreatedTimestamp: b.CreatedTimestamp,
		Status:           b.Status,
		TotalChanges:     len(b.Changes),
		NextRetryAt:      b.NextRetryAt,
		Changes:          changes,
	}
}

func batchChangeModelToDomain(m *BatchChangeModel) *domain.BatchChange {
	if m == nil {
		return nil
	}

	changes := make([]domain.SingleChange, 0, len(m.Changes))
	for i := range m.Changes {
		changes = append(changes, *singleChangeModelToDomain(&m.Changes[i]))
	}

	return &domain.BatchChange{
		ID:               m.ID,
		UserID:           m.UserID,
		UserName:         m.UserName,
		Comments:         m.Comments,
		CreatedTimestamp: m.CreatedTimestamp.UTC(),
		Status:           m.Status,
		Changes:          changes,
		NextRetryAt:      m.NextRetryAt,
	}
}

func batchChangeModelToSummary(m *BatchChangeModel) domain.BatchChangeSummary {
	return domain.BatchChangeSummary{
		ID:               m.ID,
		UserID:           m.UserID,
		UserName:         m.UserName,
		Comments:         m.Comments,
		CreatedTimestamp: m.CreatedTimestamp.UTC(),
		TotalChanges:     m.TotalChanges,
		Status:           m.Status,
	}
}

func singleChangeModelFromDomain(c *domain.SingleChange) *SingleChangeModel {
	if c == nil {
		return nil
	}

	return &SingleChangeModel{
		ID:            c.ID,
		BatchChangeID: c.BatchChangeID,
		Seq:           c.Seq,
		ChangeType:    c.ChangeType,
		InputName:     c.InputName,
		RecordName:    c.RecordName,
		ZoneName:      c.ZoneName,
		ZoneID:        c.ZoneID,
		RecordSetID:   c.RecordSetID,
		RecordType:    c.Type,
		TTL:           c.TTL,
		RecordData:    datatypes.NewJSONType(c.Record),
		Status:        c.Status,
		SystemMessage: c.SystemMessage,
		Attempts:      c.Attempts,
	}
}

func singleChangeModelToDomain(m *SingleChangeModel) *domain.SingleChange {
	if m == nil {
		return nil
	}

	return &domain.SingleChange{
		ID:            m.ID,
		BatchChangeID: m.BatchChangeID,
		Seq:           m.Seq,
		ChangeType:    m.ChangeType,
		InputName:     m.InputName,
		RecordName:    m.RecordName,
		ZoneName:      m.ZoneName,
		ZoneID:        m.ZoneID,
		RecordSetID:   m.RecordSetID,
		Type:          m.RecordType,
		TTL:           m.TTL,
		Record:        m.RecordData.Data(),
		Status:        m.Status,
		SystemMessage: m.SystemMessage,
		Attempts:      m.Attempts,
	}
}

func userModelFromDomain(u *domain.User) *UserModel {
	if u == nil {
		return nil
	}

	return &UserModel{
		ID:        u.ID,
		UserName:  u.UserName,
		AccessKey: u.AccessKey,
		SecretKey: u.SecretKey,
		GroupIDs:  datatypes.NewJSONSlice(u.GroupIDs),
		CreatedAt: u.CreatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:        m.ID,
		UserName:  m.UserName,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		GroupIDs:  []string(m.GroupIDs),
		CreatedAt: m.CreatedAt,
	}
}

func zoneModelFromDomain(z *domain.Zone) *ZoneModel {
	if z == nil {
		return nil
	}

	return &ZoneModel{
		ID:           z.ID,
		Name:         z.Name,
		AdminGroupID: z.AdminGroupID,
		CreatedAt:    z.CreatedAt,
	}
}

func zoneModelToDomain(m *ZoneModel) *domain.Zone {
	if m == nil {
		return nil
	}

	return &domain.Zone{
		ID:           m.ID,
		Name:         m.Name,
		AdminGroupID: m.AdminGroupID,
		CreatedAt:    m.CreatedAt,
	}
}

func aclRuleModelFromDomain(r *domain.ACLRule) *ACLRuleModel {
	if r == nil {
		return nil
	}

	return &ACLRuleModel{
		ID:          r.ID,
		ZoneID:      r.ZoneID,
		UserID:      r.UserID,
		GroupID:     r.GroupID,
		AccessLevel: r.AccessLevel,
		RecordMask:  r.RecordMask,
		RecordTypes: datatypes.NewJSONSlice(r.RecordTypes),
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func aclRuleModelToDomain(m *ACLRuleModel) *domain.ACLRule {
	if m == nil {
		return nil
	}

	return &domain.ACLRule{
		ID:          m.ID,
		ZoneID:      m.ZoneID,
		UserID:      m.UserID,
		GroupID:     m.GroupID,
		AccessLevel: m.AccessLevel,
		RecordMask:  m.RecordMask,
		RecordTypes: []domain.RecordType(m.RecordTypes),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}

func recordSetModelFromDomain(rs *domain.RecordSet) *RecordSetModel {
	if rs == nil {
		return nil
	}

	return &RecordSetModel{
		ID:        rs.ID,
		ZoneID:    rs.ZoneID,
		Name:      rs.Name,
		Type:      rs.Type,
		TTL:       rs.TTL,
		Records:   datatypes.NewJSONSlice(rs.Records),
		CreatedAt: rs.CreatedAt,
		UpdatedAt: rs.UpdatedAt,
	}
}

func recordSetModelToDomain(m *RecordSetModel) *domain.RecordSet {
	if m == nil {
		return nil
	}

	return &domain.RecordSet{
		ID:        m.ID,
		ZoneID:    m.ZoneID,
		Name:      m.Name,
		Type:      m.Type,
		TTL:       m.TTL,
		Records:   []domain.RecordData(m.Records),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
