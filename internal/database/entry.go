package database

// Entry is a single key-value row.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:255;not null"`
	Value            []byte `gorm:"column:value;type:blob;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}
