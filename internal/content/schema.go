package content

import (
	"time"

	"gorm.io/gorm"
)

// InputKind selects the form control used for a field.
type InputKind string

const (
	InputText     InputKind = "text"
	InputTextarea InputKind = "textarea"
	InputNumber   InputKind = "number"
	InputDate     InputKind = "date"
	InputSelect   InputKind = "select"
	InputCheckbox InputKind = "checkbox"
	InputURL      InputKind = "url"
	InputList     InputKind = "list"
	InputObject   InputKind = "object"
)

// FieldDescriptor drives the generic add/edit forms of a collection.
type FieldDescriptor struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Input    InputKind `json:"input"`
	Required bool      `json:"required,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// Schema binds a collection to its record model and presentation metadata.
type Schema struct {
	Collection Collection
	Title      string
	Fields     []FieldDescriptor

	defaultSort   string
	sortColumns   map[string]string
	extraKeys     []string
	publicSort    string
	publicFilter  func(db *gorm.DB, now time.Time) *gorm.DB
	preload       func(db *gorm.DB) *gorm.DB
	deleteRelated func(tx *gorm.DB, ids []string) error

	newRecord func() Record
	blank     func() Record
	model     func() any
	loadMany  func(db *gorm.DB) ([]Record, error)
}

// Model returns a zero value pointer for GORM model scoping and migrations.
func (s Schema) Model() any {
	return s.model()
}

func (s Schema) scoped(db *gorm.DB) *gorm.DB {
	if s.preload == nil {
		return db
	}
	return s.preload(db)
}

func (s Schema) protectedKeys() []string {
	keys := make([]string, 0, len(protectedKeys)+len(s.extraKeys))
	keys = append(keys, protectedKeys...)
	return append(keys, s.extraKeys...)
}

// bind wires the typed constructors for model T into the schema.
func bind[T any, P interface {
	*T
	Record
}](schema Schema, defaults func() P) Schema {
	schema.newRecord = func() Record { return defaults() }
	schema.blank = func() Record { return P(new(T)) }
	schema.model = func() any { return new(T) }
	schema.loadMany = func(db *gorm.DB) ([]Record, error) {
		var rows []T
		if err := db.Find(&rows).Error; err != nil {
			return nil, err
		}
		records := make([]Record, 0, len(rows))
		for index := range rows {
			records = append(records, P(&rows[index]))
		}
		return records, nil
	}
	return schema
}

func sortColumns(extra map[string]string) map[string]string {
	columns := map[string]string{
		"createdAt": "created_at",
		"updatedAt": "updated_at",
	}
	for key, column := range extra {
		columns[key] = column
	}
	return columns
}
