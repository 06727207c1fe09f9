// Package manager holds the schema-driven list, form and selection state for
// one content collection, kept current by change events.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"go.uber.org/zap"
)

// IDKey is the record key carrying the record id.
const IDKey = "_id"

const loadPageSize = 200

var (
	// ErrRecordNotFound indicates the id is not in the local list.
	ErrRecordNotFound = errors.New("manager: record not in list")
	// ErrNotEditing indicates SaveEdit without a prior BeginEdit.
	ErrNotEditing = errors.New("manager: no record is being edited")
	// ErrNothingSelected indicates DeleteSelected with an empty selection.
	ErrNothingSelected = errors.New("manager: no records selected")

	errMissingBackend = errors.New("manager: backend is required")
	errMissingTitle   = errors.New("manager: title is required")
	errMissingFields  = errors.New("manager: at least one field is required")
)

// Record is the schema-agnostic form of a content record.
type Record map[string]any

// ID returns the record id or "".
func (r Record) ID() string {
	id, _ := r[IDKey].(string)
	return id
}

func (r Record) clone() Record {
	copied := make(Record, len(r))
	for key, value := range r {
		copied[key] = value
	}
	return copied
}

// Page is one page of records returned by a Backend.
type Page struct {
	Records []Record
	Pages   int
}

// Backend performs the remote writes and reads for a Manager.
type Backend interface {
	List(ctx context.Context, collection string, page, limit int) (Page, error)
	Create(ctx context.Context, collection string, values map[string]any) (Record, error)
	Update(ctx context.Context, collection, id string, values map[string]any) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	BulkDelete(ctx context.Context, collection string, ids []string) (int64, error)
}

// Config describes the collection a Manager presents.
type Config struct {
	Collection string
	Title      string
	Fields     []content.FieldDescriptor
	Backend    Backend
	Logger     *zap.Logger
}

// Manager is safe for concurrent use.
type Manager struct {
	collection content.Collection
	title      string
	fields     []content.FieldDescriptor
	backend    Backend
	logger     *zap.Logger

	mu        sync.RWMutex
	records   []Record
	selected  map[string]struct{}
	editingID string
	draft     Record
	lastErr   error
}

// New validates the descriptors and constructs a Manager.
func New(cfg Config) (*Manager, error) {
	collection, err := content.ParseCollection(cfg.Collection)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Title) == "" {
		return nil, errMissingTitle
	}
	if len(cfg.Fields) == 0 {
		return nil, errMissingFields
	}
	seen := make(map[string]struct{}, len(cfg.Fields))
	for index, field := range cfg.Fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return nil, fmt.Errorf("manager: field %d has no name", index)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("manager: duplicate field %q", name)
		}
		seen[name] = struct{}{}
		if field.Input == content.InputSelect && len(field.Options) == 0 {
			return nil, fmt.Errorf("manager: select field %q has no options", name)
		}
	}
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		collection: collection,
		title:      cfg.Title,
		fields:     slices.Clone(cfg.Fields),
		backend:    cfg.Backend,
		logger:     logger.With(zap.String("collection", collection.String())),
		selected:   make(map[string]struct{}),
	}, nil
}

// NewForSchema builds a Manager from a registry schema.
func NewForSchema(schema content.Schema, backend Backend, logger *zap.Logger) (*Manager, error) {
	return New(Config{
		Collection: schema.Collection.String(),
		Title:      schema.Title,
		Fields:     schema.Fields,
		Backend:    backend,
		Logger:     logger,
	})
}

// Collection returns the managed collection.
func (m *Manager) Collection() content.Collection {
	return m.collection
}

// Title returns the display title.
func (m *Manager) Title() string {
	return m.title
}

// Fields returns the form descriptors.
func (m *Manager) Fields() []content.FieldDescriptor {
	return slices.Clone(m.fields)
}

// Load fetches every page of the collection and replaces local state.
func (m *Manager) Load(ctx context.Context) error {
	var records []Record
	for page := 1; ; page++ {
		result, err := m.backend.List(ctx, m.collection.String(), page, loadPageSize)
		if err != nil {
			m.fail("load", err)
			return err
		}
		records = append(records, result.Records...)
		if page >= result.Pages || len(result.Records) == 0 {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.pruneSelectionLocked()
	if m.editingID != "" && m.indexLocked(m.editingID) < 0 {
		m.editingID, m.draft = "", nil
	}
	m.lastErr = nil
	return nil
}

// Refresh is an explicit full reload.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.Load(ctx)
}

// Records returns a copy of the local list.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	copies := make([]Record, 0, len(m.records))
	for _, record := range m.records {
		copies = append(copies, record.clone())
	}
	return copies
}

// LastError returns the most recent failed operation's error.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Create submits a new record. Local state changes only through Apply.
func (m *Manager) Create(ctx context.Context, values map[string]any) (Record, error) {
	if err := m.checkValues(values); err != nil {
		m.fail("create", err)
		return nil, err
	}
	record, err := m.backend.Create(ctx, m.collection.String(), values)
	if err != nil {
		m.fail("create", err)
		return nil, err
	}
	m.succeed()
	return record, nil
}

// BeginEdit opens the record with id for in-place editing.
func (m *Manager) BeginEdit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexLocked(id)
	if index < 0 {
		return ErrRecordNotFound
	}
	m.editingID = id
	m.draft = m.records[index].clone()
	return nil
}

// Editing reports the record being edited and its draft values.
func (m *Manager) Editing() (string, Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.editingID == "" {
		return "", nil, false
	}
	return m.editingID, m.draft.clone(), true
}

// CancelEdit leaves edit mode without writing.
func (m *Manager) CancelEdit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editingID, m.draft = "", nil
}

// SaveEdit writes the edited values for the record in edit mode. Edit mode
// stays open when the write fails.
func (m *Manager) SaveEdit(ctx context.Context, values map[string]any) (Record, error) {
	m.mu.RLock()
	id := m.editingID
	m.mu.RUnlock()
	if id == "" {
		m.fail("save_edit", ErrNotEditing)
		return nil, ErrNotEditing
	}
	if err := m.checkValues(values); err != nil {
		m.fail("save_edit", err)
		return nil, err
	}
	record, err := m.backend.Update(ctx, m.collection.String(), id, m.formValues(values))
	if err != nil {
		m.fail("save_edit", err)
		return nil, err
	}

	m.mu.Lock()
	if m.editingID == id {
		m.editingID, m.draft = "", nil
	}
	m.lastErr = nil
	m.mu.Unlock()
	return record, nil
}

// Delete removes one record remotely.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.backend.Delete(ctx, m.collection.String(), id); err != nil {
		m.fail("delete", err)
		return err
	}
	m.succeed()
	return nil
}

// DeleteSelected bulk deletes the selection and clears it on success.
func (m *Manager) DeleteSelected(ctx context.Context) (int64, error) {
	ids := m.Selected()
	if len(ids) == 0 {
		m.fail("delete_selected", ErrNothingSelected)
		return 0, ErrNothingSelected
	}
	count, err := m.backend.BulkDelete(ctx, m.collection.String(), ids)
	if err != nil {
		m.fail("delete_selected", err)
		return 0, err
	}
	m.mu.Lock()
	m.selected = make(map[string]struct{})
	m.lastErr = nil
	m.mu.Unlock()
	return count, nil
}

// ToggleSelect flips the selection of id and reports whether it is now selected.
func (m *Manager) ToggleSelect(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
		return false
	}
	if m.indexLocked(id) < 0 {
		return false
	}
	m.selected[id] = struct{}{}
	return true
}

// SelectAll selects every record in the local list.
func (m *Manager) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if id := record.ID(); id != "" {
			m.selected[id] = struct{}{}
		}
	}
}

// ClearSelection empties the selection.
func (m *Manager) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[string]struct{})
}

// Selected returns the selected ids in list order.
func (m *Manager) Selected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.selected))
	for _, record := range m.records {
		if _, ok := m.selected[record.ID()]; ok {
			ids = append(ids, record.ID())
		}
	}
	return ids
}

// Apply patches local state from a change event for this collection and
// reports whether the event was relevant.
func (m *Manager) Apply(event relay.ChangeEvent) bool {
	if event.Collection != m.collection.String() {
		return false
	}
	switch event.Action {
	case relay.ActionCreate, relay.ActionUpdate:
		record, err := asRecord(event.Data)
		if err != nil || record.ID() == "" {
			m.logger.Warn("change event without record", zap.String("action", string(event.Action)), zap.Error(err))
			return false
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		index := m.indexLocked(record.ID())
		switch {
		case index >= 0:
			m.records[index] = record
		case event.Action == relay.ActionCreate:
			m.records = append(m.records, record)
		}
		return true
	case relay.ActionDelete:
		record, err := asRecord(event.Data)
		if err != nil || record.ID() == "" {
			m.logger.Warn("delete event without id", zap.Error(err))
			return false
		}
		m.removeIDs(record.ID())
		return true
	case relay.ActionBulkDelete:
		var payload relay.BulkDeletePayload
		if err := remarshal(event.Data, &payload); err != nil {
			m.logger.Warn("bulk delete event without ids", zap.Error(err))
			return false
		}
		m.removeIDs(payload.IDs...)
		return true
	default:
		return false
	}
}

// Watch applies events until ctx ends or the stream closes.
func (m *Manager) Watch(ctx context.Context, events <-chan relay.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			m.Apply(event)
		}
	}
}

// checkValues enforces the descriptors before any backend call.
func (m *Manager) checkValues(values map[string]any) error {
	var fieldErrors []validation.FieldError
	for _, field := range m.fields {
		value, present := values[field.Name]
		if field.Required && (!present || isBlank(value)) {
			fieldErrors = append(fieldErrors, validation.FieldError{
				Field:   field.Name,
				Message: fmt.Sprintf("%s is required", field.Label),
			})
			continue
		}
		if field.Input != content.InputSelect || !present || isBlank(value) {
			continue
		}
		choice, ok := value.(string)
		if !ok || !slices.Contains(field.Options, choice) {
			fieldErrors = append(fieldErrors, validation.FieldError{
				Field:   field.Name,
				Message: fmt.Sprintf("%s must be one of [%s]", field.Label, strings.Join(field.Options, " ")),
			})
		}
	}
	if len(fieldErrors) > 0 {
		return &validation.Error{Fields: fieldErrors}
	}
	return nil
}

// formValues keeps only the described fields so read-only keys in an edit
// draft are not sent back.
func (m *Manager) formValues(values map[string]any) map[string]any {
	filtered := make(map[string]any, len(m.fields))
	for _, field := range m.fields {
		if value, ok := values[field.Name]; ok {
			filtered[field.Name] = value
		}
	}
	return filtered
}

func (m *Manager) removeIDs(ids ...string) {
	if len(ids) == 0 {
		return
	}
	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = slices.DeleteFunc(m.records, func(record Record) bool {
		_, ok := removed[record.ID()]
		return ok
	})
	for id := range removed {
		delete(m.selected, id)
	}
	if _, ok := removed[m.editingID]; ok {
		m.editingID, m.draft = "", nil
	}
}

func (m *Manager) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(m.records, func(record Record) bool {
		return record.ID() == id
	})
}

func (m *Manager) pruneSelectionLocked() {
	for id := range m.selected {
		if m.indexLocked(id) < 0 {
			delete(m.selected, id)
		}
	}
}

func (m *Manager) fail(operation string, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Warn("record manager operation failed",
		zap.String("operation", operation),
		zap.Error(err))
}

func (m *Manager) succeed() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

func isBlank(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case []string:
		return len(typed) == 0
	case []map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}

// asRecord converts typed event payloads into the generic record form.
func asRecord(data any) (Record, error) {
	switch typed := data.(type) {
	case Record:
		return typed.clone(), nil
	case map[string]any:
		return Record(typed).clone(), nil
	}
	var record Record
	if err := remarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func remarshal(data any, target any) error {
	if data == nil {
		return errors.New("manager: empty event payload")
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, target)
}
