package content

import (
	"time"

	"gorm.io/gorm"
)

// Registry resolves collections to their schemas. It is built once at startup.
type Registry struct {
	schemas map[Collection]Schema
}

// NewRegistry constructs the registry of every known collection.
func NewRegistry() *Registry {
	schemas := []Schema{
		eventsSchema(),
		teamMembersSchema(),
		pollsSchema(),
		planOfActionSchema(),
		noticesSchema(),
	}
	registry := &Registry{schemas: make(map[Collection]Schema, len(schemas))}
	for _, schema := range schemas {
		registry.schemas[schema.Collection] = schema
	}
	return registry
}

// Lookup returns the schema for a parsed collection.
func (r *Registry) Lookup(collection Collection) (Schema, bool) {
	schema, ok := r.schemas[collection]
	return schema, ok
}

// Resolve parses the raw identifier and returns its schema.
func (r *Registry) Resolve(raw string) (Schema, error) {
	collection, err := ParseCollection(raw)
	if err != nil {
		return Schema{}, err
	}
	schema, ok := r.schemas[collection]
	if !ok {
		return Schema{}, ErrUnknownCollection
	}
	return schema, nil
}

// Models lists every persisted model for schema migration.
func (r *Registry) Models() []any {
	models := make([]any, 0, len(r.schemas)+2)
	for _, collection := range Collections() {
		models = append(models, r.schemas[collection].Model())
	}
	return append(models, &PollOption{}, &PollResponse{})
}

func eventsSchema() Schema {
	return bind(Schema{
		Collection: CollectionEvents,
		Title:      "Events",
		Fields: []FieldDescriptor{
			{Name: "title", Label: "Title", Input: InputText, Required: true},
			{Name: "description", Label: "Description", Input: InputTextarea, Required: true},
			{Name: "date", Label: "Date", Input: InputDate, Required: true},
			{Name: "location", Label: "Location", Input: InputText},
			{Name: "imageUrl", Label: "Image URL", Input: InputURL},
			{Name: "category", Label: "Category", Input: InputSelect, Required: true,
				Options: []string{"signature", "past", "flagship", "workshop", "weekly-cadence"}},
			{Name: "status", Label: "Status", Input: InputSelect,
				Options: []string{"upcoming", "ongoing", "completed", "cancelled"}},
		},
		defaultSort: "-createdAt",
		sortColumns: sortColumns(map[string]string{"date": "date", "title": "title", "status": "status"}),
		publicSort:  "date DESC",
	}, newEvent)
}

func teamMembersSchema() Schema {
	return bind(Schema{
		Collection: CollectionTeamMembers,
		Title:      "Team Members",
		Fields: []FieldDescriptor{
			{Name: "name", Label: "Name", Input: InputText, Required: true},
			{Name: "role", Label: "Role", Input: InputText, Required: true},
			{Name: "department", Label: "Department", Input: InputSelect, Required: true,
				Options: []string{"Tech", "Design", "PR", "Media", "Lead"}},
			{Name: "imageUrl", Label: "Image URL", Input: InputURL},
			{Name: "bio", Label: "Bio", Input: InputTextarea},
			{Name: "socialLinks", Label: "Social Links", Input: InputObject},
			{Name: "order", Label: "Display Order", Input: InputNumber},
			{Name: "isActive", Label: "Active", Input: InputCheckbox},
		},
		defaultSort: "-createdAt",
		sortColumns: sortColumns(map[string]string{"name": "name", "order": "display_order", "department": "department"}),
		publicSort:  "department ASC, display_order ASC",
		publicFilter: func(db *gorm.DB, _ time.Time) *gorm.DB {
			return db.Where("is_active = ?", true)
		},
	}, newTeamMember)
}

func pollsSchema() Schema {
	return bind(Schema{
		Collection: CollectionPolls,
		Title:      "Polls",
		Fields: []FieldDescriptor{
			{Name: "question", Label: "Question", Input: InputText, Required: true},
			{Name: "description", Label: "Description", Input: InputTextarea},
			{Name: "options", Label: "Options", Input: InputList, Required: true},
			{Name: "status", Label: "Status", Input: InputSelect,
				Options: []string{PollStatusDraft, PollStatusActive, PollStatusInactive}},
			{Name: "startDate", Label: "Start Date", Input: InputDate},
			{Name: "endDate", Label: "End Date", Input: InputDate},
			{Name: "showResultsAfterVoting", Label: "Show Results After Voting", Input: InputCheckbox},
		},
		defaultSort:   "-createdAt",
		sortColumns:   sortColumns(map[string]string{"startDate": "start_date", "endDate": "end_date", "totalVotes": "total_votes"}),
		extraKeys:     []string{"totalVotes", "phase"},
		publicSort:    "start_date DESC",
		preload:       preloadPollOptions,
		deleteRelated: deletePollChildren,
		publicFilter: func(db *gorm.DB, now time.Time) *gorm.DB {
			return db.Where("status = ?", PollStatusActive).
				Where("start_date <= ?", now).
				Where("end_date IS NULL OR end_date >= ?", now)
		},
	}, newPoll)
}

func planOfActionSchema() Schema {
	return bind(Schema{
		Collection: CollectionPlanOfAction,
		Title:      "Plan of Action",
		Fields: []FieldDescriptor{
			{Name: "title", Label: "Title", Input: InputText, Required: true},
			{Name: "description", Label: "Description", Input: InputTextarea, Required: true},
			{Name: "category", Label: "Category", Input: InputSelect,
				Options: []string{"technical", "community", "outreach", "internal", "other"}},
			{Name: "priority", Label: "Priority", Input: InputSelect,
				Options: []string{"low", "medium", "high", "urgent"}},
			{Name: "status", Label: "Status", Input: InputSelect,
				Options: []string{"planned", "in-progress", "completed", "on-hold"}},
			{Name: "targetDate", Label: "Target Date", Input: InputDate},
			{Name: "completedDate", Label: "Completed Date", Input: InputDate},
			{Name: "order", Label: "Display Order", Input: InputNumber},
		},
		defaultSort: "-createdAt",
		sortColumns: sortColumns(map[string]string{"order": "display_order", "targetDate": "target_date", "status": "status", "priority": "priority"}),
		publicSort:  "display_order ASC, created_at DESC",
	}, newPlanItem)
}

func noticesSchema() Schema {
	return bind(Schema{
		Collection: CollectionNotices,
		Title:      "Notices",
		Fields: []FieldDescriptor{
			{Name: "title", Label: "Title", Input: InputText, Required: true},
			{Name: "content", Label: "Content", Input: InputTextarea, Required: true},
			{Name: "type", Label: "Type", Input: InputSelect,
				Options: []string{"info", "warning", "success", "urgent"}},
			{Name: "isActive", Label: "Active", Input: InputCheckbox},
			{Name: "priority", Label: "Priority", Input: InputNumber},
			{Name: "expiryDate", Label: "Expiry Date", Input: InputDate},
			{Name: "targetAudience", Label: "Target Audience", Input: InputSelect,
				Options: []string{"all", "members", "public"}},
		},
		defaultSort: "-createdAt",
		sortColumns: sortColumns(map[string]string{"priority": "priority", "expiryDate": "expiry_date", "title": "title"}),
		publicSort:  "priority DESC, created_at DESC",
		publicFilter: func(db *gorm.DB, now time.Time) *gorm.DB {
			return db.Where("is_active = ?", true).
				Where("expiry_date IS NULL OR expiry_date > ?", now).
				Where("target_audience IN ?", []string{"all", "public"})
		},
	}, newNotice)
}
