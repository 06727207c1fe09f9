package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/ids"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPublicRecords = 200

var noOpLogger = zap.NewNop()

// CreatorResolver denormalizes creator ids into name/email summaries.
type CreatorResolver interface {
	Summaries(ctx context.Context, userIDs []string) (map[string]users.Summary, error)
}

// StoreConfig describes the dependencies of the content store.
type StoreConfig struct {
	Database   *gorm.DB
	Registry   *Registry
	Clock      func() time.Time
	IDProvider ids.Provider
	Creators   CreatorResolver
	Logger     *zap.Logger
}

// Store performs CRUD over the content collections.
type Store struct {
	db         *gorm.DB
	registry   *Registry
	clock      func() time.Time
	idProvider ids.Provider
	creators   CreatorResolver
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Registry == nil {
		return nil, newServiceError(opStoreNew, "missing_registry", errMissingRegistry)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		registry:   cfg.Registry,
		clock:      clock,
		idProvider: cfg.IDProvider,
		creators:   cfg.Creators,
		logger:     logger,
	}, nil
}

// Registry exposes the schemas the store serves.
func (s *Store) Registry() *Registry {
	return s.registry
}

// List returns one page of a collection with creators attached.
func (s *Store) List(ctx context.Context, collection Collection, query ListQuery) (ListResult, error) {
	schema, err := s.schema(opList, collection)
	if err != nil {
		return ListResult{}, err
	}
	query = query.normalized()
	order, err := orderClause(schema, query.Sort)
	if err != nil {
		return ListResult{}, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(schema.Model()).Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.String("collection", collection.String()))
		return ListResult{}, newServiceError(opList, "count_failed", err)
	}

	records, err := schema.loadMany(schema.scoped(s.db.WithContext(ctx)).
		Order(order).
		Limit(query.Limit).
		Offset(query.offset()))
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("collection", collection.String()))
		return ListResult{}, newServiceError(opList, "query_failed", err)
	}
	if err := s.attachCreators(ctx, records); err != nil {
		s.logError(opList, "creator_lookup_failed", err, zap.String("collection", collection.String()))
		return ListResult{}, newServiceError(opList, "creator_lookup_failed", err)
	}
	s.decorate(records)

	return ListResult{
		Records: records,
		Pagination: Pagination{
			Page:  query.Page,
			Limit: query.Limit,
			Total: total,
			Pages: pageCount(total, query.Limit),
		},
	}, nil
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, collection Collection, id string) (Record, error) {
	schema, err := s.schema(opGet, collection)
	if err != nil {
		return nil, err
	}
	record, err := s.load(s.db.WithContext(ctx), schema, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.logError(opGet, "query_failed", err, zap.String("collection", collection.String()), zap.String("id", id))
		return nil, newServiceError(opGet, "query_failed", err)
	}
	if err := s.attachCreators(ctx, []Record{record}); err != nil {
		return nil, newServiceError(opGet, "creator_lookup_failed", err)
	}
	s.decorate([]Record{record})
	return record, nil
}

// Create validates body against the collection schema and persists a new record.
func (s *Store) Create(ctx context.Context, collection Collection, creatorID string, body []byte) (Record, error) {
	schema, err := s.schema(opCreate, collection)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(creatorID) == "" {
		return nil, validation.New("createdBy", "createdBy is required")
	}
	payload, err := sanitizePayload(schema, body, "Request body cannot be empty")
	if err != nil {
		return nil, err
	}

	record := schema.newRecord()
	if err := decodeInto(payload, record); err != nil {
		return nil, err
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, newServiceError(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	meta := record.Meta()
	meta.ID = recordID
	meta.CreatedByID = creatorID
	meta.CreatedAt = now
	meta.UpdatedAt = now
	if preparer, ok := record.(createPreparer); ok {
		preparer.prepareCreate(now)
	}
	if err := validateRecord(record); err != nil {
		return nil, err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(record).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		if writer, ok := record.(childWriter); ok {
			if err := writer.saveChildren(tx); err != nil {
				return newServiceError(opCreate, "children_insert_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.String("collection", collection.String()))
		return nil, txErr
	}

	if err := s.attachCreators(ctx, []Record{record}); err != nil {
		s.logger.Warn("creator lookup failed after create", zap.Error(err))
	}
	s.decorate([]Record{record})
	s.logger.Debug("content record created",
		zap.String("collection", collection.String()),
		zap.String("id", recordID))
	return record, nil
}

// Update overlays body onto the stored record. createdBy, _id and createdAt
// are immutable; concurrent updates are last-write-wins.
func (s *Store) Update(ctx context.Context, collection Collection, id string, body []byte) (Record, error) {
	schema, err := s.schema(opUpdate, collection)
	if err != nil {
		return nil, err
	}
	payload, err := sanitizePayload(schema, body, "Update data cannot be empty")
	if err != nil {
		return nil, err
	}

	var updated Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, err := s.load(tx, schema, id)
		if err != nil {
			return err
		}
		current, err := s.load(tx, schema, id)
		if err != nil {
			return err
		}
		if err := decodeInto(payload, current); err != nil {
			return err
		}

		priorMeta := previous.Meta()
		meta := current.Meta()
		meta.ID = priorMeta.ID
		meta.CreatedByID = priorMeta.CreatedByID
		meta.CreatedAt = priorMeta.CreatedAt
		meta.UpdatedAt = s.clock().UTC()
		if merger, ok := current.(updateMerger); ok {
			merger.mergeUpdate(previous)
		}
		if err := validateRecord(current); err != nil {
			return err
		}

		if err := tx.Omit(clause.Associations).Save(current).Error; err != nil {
			return newServiceError(opUpdate, "save_failed", err)
		}
		if writer, ok := current.(childWriter); ok {
			if err := writer.saveChildren(tx); err != nil {
				return newServiceError(opUpdate, "children_save_failed", err)
			}
		}
		updated = current
		return nil
	})
	if txErr != nil {
		if isClientError(txErr) {
			return nil, txErr
		}
		s.logError(opUpdate, "transaction_failed", txErr, zap.String("collection", collection.String()), zap.String("id", id))
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return nil, txErr
		}
		return nil, newServiceError(opUpdate, "query_failed", txErr)
	}

	if err := s.attachCreators(ctx, []Record{updated}); err != nil {
		s.logger.Warn("creator lookup failed after update", zap.Error(err))
	}
	s.decorate([]Record{updated})
	return updated, nil
}

// Delete removes one record and returns it as it was before deletion.
func (s *Store) Delete(ctx context.Context, collection Collection, id string) (Record, error) {
	schema, err := s.schema(opDelete, collection)
	if err != nil {
		return nil, err
	}

	var deleted Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, schema, id)
		if err != nil {
			return err
		}
		if schema.deleteRelated != nil {
			if err := schema.deleteRelated(tx, []string{id}); err != nil {
				return newServiceError(opDelete, "children_delete_failed", err)
			}
		}
		if err := tx.Where("id = ?", id).Delete(schema.Model()).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		deleted = record
		return nil
	})
	if txErr != nil {
		if isClientError(txErr) {
			return nil, txErr
		}
		s.logError(opDelete, "transaction_failed", txErr, zap.String("collection", collection.String()), zap.String("id", id))
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return nil, txErr
		}
		return nil, newServiceError(opDelete, "query_failed", txErr)
	}
	s.decorate([]Record{deleted})
	return deleted, nil
}

// BulkDelete removes every listed record that exists. Unknown ids are skipped
// and the returned count reflects rows actually removed.
func (s *Store) BulkDelete(ctx context.Context, collection Collection, recordIDs []string) (BulkDeleteResult, error) {
	schema, err := s.schema(opBulkDelete, collection)
	if err != nil {
		return BulkDeleteResult{}, err
	}
	unique := uniqueIDs(recordIDs)
	if len(unique) == 0 {
		return BulkDeleteResult{}, validation.New("ids", "IDs array is required and cannot be empty")
	}

	result := BulkDeleteResult{IDs: []string{}}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(schema.Model()).Where("id IN ?", unique).Order("id ASC").Pluck("id", &existing).Error; err != nil {
			return newServiceError(opBulkDelete, "lookup_failed", err)
		}
		if len(existing) == 0 {
			return nil
		}
		if schema.deleteRelated != nil {
			if err := schema.deleteRelated(tx, existing); err != nil {
				return newServiceError(opBulkDelete, "children_delete_failed", err)
			}
		}
		deleted := tx.Where("id IN ?", existing).Delete(schema.Model())
		if deleted.Error != nil {
			return newServiceError(opBulkDelete, "delete_failed", deleted.Error)
		}
		result.IDs = existing
		result.Count = deleted.RowsAffected
		return nil
	})
	if txErr != nil {
		s.logError(opBulkDelete, "transaction_failed", txErr, zap.String("collection", collection.String()))
		return BulkDeleteResult{}, txErr
	}
	return result, nil
}

// BulkDeleteResult lists the ids that existed and were removed.
type BulkDeleteResult struct {
	IDs   []string
	Count int64
}

// Stats counts the records of every collection.
type Stats struct {
	Events       int64 `json:"events"`
	TeamMembers  int64 `json:"teamMembers"`
	Polls        int64 `json:"polls"`
	PlanOfAction int64 `json:"planOfAction"`
	Notices      int64 `json:"notices"`
	Total        int64 `json:"total"`
}

// Stats gathers the per-collection counts concurrently.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	collections := Collections()
	counts := make([]int64, len(collections))

	group, groupCtx := errgroup.WithContext(ctx)
	for index, collection := range collections {
		schema, ok := s.registry.Lookup(collection)
		if !ok {
			return Stats{}, newServiceError(opStats, "missing_schema", ErrUnknownCollection)
		}
		group.Go(func() error {
			return s.db.WithContext(groupCtx).Model(schema.Model()).Count(&counts[index]).Error
		})
	}
	if err := group.Wait(); err != nil {
		s.logError(opStats, "count_failed", err)
		return Stats{}, newServiceError(opStats, "count_failed", err)
	}

	stats := Stats{
		Events:       counts[0],
		TeamMembers:  counts[1],
		Polls:        counts[2],
		PlanOfAction: counts[3],
		Notices:      counts[4],
	}
	stats.Total = stats.Events + stats.TeamMembers + stats.Polls + stats.PlanOfAction + stats.Notices
	return stats, nil
}

// ListPublic returns the visitor-facing view of a collection.
func (s *Store) ListPublic(ctx context.Context, collection Collection) ([]Record, error) {
	schema, err := s.schema(opListPublic, collection)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	db := schema.scoped(s.db.WithContext(ctx))
	if schema.publicFilter != nil {
		db = schema.publicFilter(db, now)
	}
	records, err := schema.loadMany(db.Order(schema.publicSort).Limit(maxPublicRecords))
	if err != nil {
		s.logError(opListPublic, "query_failed", err, zap.String("collection", collection.String()))
		return nil, newServiceError(opListPublic, "query_failed", err)
	}
	s.decorate(records)
	return records, nil
}

func (s *Store) schema(operation string, collection Collection) (Schema, error) {
	if s == nil || s.db == nil {
		return Schema{}, newServiceError(operation, "missing_database", errMissingDatabase)
	}
	if s.registry == nil {
		return Schema{}, newServiceError(operation, "missing_registry", errMissingRegistry)
	}
	schema, ok := s.registry.Lookup(collection)
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return schema, nil
}

func (s *Store) load(db *gorm.DB, schema Schema, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	record := schema.blank()
	err := schema.scoped(db).Where("id = ?", id).Take(record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) attachCreators(ctx context.Context, records []Record) error {
	if s.creators == nil || len(records) == 0 {
		return nil
	}
	creatorIDs := make([]string, 0, len(records))
	for _, record := range records {
		creatorIDs = append(creatorIDs, record.Meta().CreatedByID)
	}
	summaries, err := s.creators.Summaries(ctx, uniqueIDs(creatorIDs))
	if err != nil {
		return err
	}
	for _, record := range records {
		meta := record.Meta()
		if summary, ok := summaries[meta.CreatedByID]; ok {
			creator := summary
			meta.CreatedBy = &creator
		}
	}
	return nil
}

func (s *Store) decorate(records []Record) {
	now := s.clock().UTC()
	for _, record := range records {
		if decorator, ok := record.(readDecorator); ok {
			decorator.decorate(now)
		}
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content store error", attrs...)
}

// sanitizePayload requires a non-empty JSON object and drops server-managed keys.
func sanitizePayload(schema Schema, body []byte, emptyMessage string) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, validation.New("body", emptyMessage)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, validation.New("body", "body must be a JSON object")
	}
	for _, key := range schema.protectedKeys() {
		delete(fields, key)
	}
	if len(fields) == 0 {
		return nil, validation.New("body", emptyMessage)
	}
	if err := normalizeDates(schema, fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// dateLayouts are the accepted spellings of a date field, most specific first.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", time.DateOnly}

// normalizeDates rewrites every date field to RFC 3339 in UTC. Date-only and
// datetime-local values are read as UTC; an empty string clears the field.
func normalizeDates(schema Schema, fields map[string]json.RawMessage) error {
	for _, field := range schema.Fields {
		if field.Input != InputDate {
			continue
		}
		raw, ok := fields[field.Name]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				continue
			}
			return validation.New(field.Name, field.Name+" must be a date string")
		}
		value = strings.TrimSpace(value)
		if value == "" {
			fields[field.Name] = json.RawMessage("null")
			continue
		}
		parsed, ok := parseDate(value)
		if !ok {
			return validation.New(field.Name, field.Name+" must be a valid date")
		}
		encoded, err := json.Marshal(parsed.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		fields[field.Name] = encoded
	}
	return nil
}

func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func decodeInto(payload []byte, record Record) error {
	err := json.Unmarshal(payload, record)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return validation.New(typeErr.Field, fmt.Sprintf("%s has an invalid type", typeErr.Field))
	}
	return validation.New("body", err.Error())
}

func validateRecord(record Record) error {
	if normal, ok := record.(normalizer); ok {
		normal.normalize()
	}
	if err := validation.Struct(record); err != nil {
		return err
	}
	if extra, ok := record.(checker); ok {
		return extra.check()
	}
	return nil
}

func isClientError(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	_, ok := validation.As(err)
	return ok
}

func uniqueIDs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
