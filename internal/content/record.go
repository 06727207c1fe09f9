package content

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"gorm.io/gorm"
)

// Base holds the server-managed fields shared by every content record.
type Base struct {
	ID          string         `gorm:"column:id;primaryKey;size:64;not null" json:"_id"`
	CreatedByID string         `gorm:"column:created_by;size:64;not null;index" json:"-"`
	CreatedBy   *users.Summary `gorm:"-" json:"createdBy,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index;autoCreateTime:false" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updatedAt"`
}

// Meta exposes the shared fields of a record.
func (b *Base) Meta() *Base {
	return b
}

// Record is implemented by every collection model through the embedded Base.
type Record interface {
	Meta() *Base
}

// protectedKeys are never accepted from a client payload.
var protectedKeys = []string{"_id", "id", "createdBy", "createdAt", "updatedAt"}

// The interfaces below are optional per-collection hooks.

type normalizer interface {
	normalize()
}

type checker interface {
	check() error
}

type createPreparer interface {
	prepareCreate(now time.Time)
}

type updateMerger interface {
	mergeUpdate(previous Record)
}

type childWriter interface {
	saveChildren(tx *gorm.DB) error
}

type readDecorator interface {
	decorate(now time.Time)
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}

func trim(values ...*string) {
	for _, value := range values {
		*value = strings.TrimSpace(*value)
	}
}
