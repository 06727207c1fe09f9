package content

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, time.March, 10, 18, 30, 0, 0, time.UTC)

type sequenceIDs struct {
	next atomic.Int64
}

func (s *sequenceIDs) NewID() (string, error) {
	return fmt.Sprintf("rec-%03d", s.next.Add(1)), nil
}

type stubCreators struct {
	summaries map[string]users.Summary
}

func (s stubCreators) Summaries(_ context.Context, userIDs []string) (map[string]users.Summary, error) {
	result := make(map[string]users.Summary, len(userIDs))
	for _, id := range userIDs {
		if summary, ok := s.summaries[id]; ok {
			result[id] = summary
		}
	}
	return result, nil
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "content.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	registry := NewRegistry()
	require.NoError(t, db.AutoMigrate(registry.Models()...))

	store, err := NewStore(StoreConfig{
		Database:   db,
		Registry:   registry,
		Clock:      func() time.Time { return fixedNow },
		IDProvider: &sequenceIDs{},
		Creators: stubCreators{summaries: map[string]users.Summary{
			"admin-1": {ID: "admin-1", Name: "Ada Admin", Email: "ada@example.com"},
		}},
	})
	require.NoError(t, err)
	return store, db
}

func mustCreate(t *testing.T, store *Store, collection Collection, body string) Record {
	t.Helper()
	record, err := store.Create(context.Background(), collection, "admin-1", []byte(body))
	require.NoError(t, err)
	return record
}

func requireFieldError(t *testing.T, err error, field string) {
	t.Helper()
	validationErr, ok := validation.As(err)
	require.Truef(t, ok, "expected validation error, got %v", err)
	for _, fieldErr := range validationErr.Fields {
		if fieldErr.Field == field {
			return
		}
	}
	t.Fatalf("expected field error for %q, got %+v", field, validationErr.Fields)
}

func TestNewStoreRequiresDependencies(t *testing.T) {
	_, err := NewStore(StoreConfig{Registry: NewRegistry()})
	require.Error(t, err)

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, "content.store.new.missing_database", serviceErr.Code())
}

func TestCreateThenGetReturnsEqualRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CollectionEvents, `{
		"_id": "forged",
		"createdBy": "someone-else",
		"title": "  Go Workshop ",
		"description": "Hands-on concurrency",
		"date": "2026-04-01T17:00:00Z",
		"category": "workshop"
	}`)

	event, ok := created.(*Event)
	require.True(t, ok)
	require.Equal(t, "rec-001", event.ID)
	require.Equal(t, "admin-1", event.CreatedByID)
	require.Equal(t, "Go Workshop", event.Title)
	require.Equal(t, "upcoming", event.Status)
	require.Equal(t, fixedNow, event.CreatedAt)
	require.NotNil(t, event.CreatedBy)
	require.Equal(t, "Ada Admin", event.CreatedBy.Name)

	loaded, err := store.Get(ctx, CollectionEvents, event.ID)
	require.NoError(t, err)
	reloaded := loaded.(*Event)
	require.Equal(t, event.Title, reloaded.Title)
	require.Equal(t, event.Description, reloaded.Description)
	require.True(t, event.Date.Equal(reloaded.Date))
	require.Equal(t, event.Category, reloaded.Category)
	require.Equal(t, event.CreatedBy, reloaded.CreatedBy)
}

func TestCreateRejectsInvalidPayloads(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionEvents, "admin-1", []byte(`{"description":"no title","date":"2026-04-01T17:00:00Z","category":"workshop"}`))
	requireFieldError(t, err, "title")

	_, err = store.Create(ctx, CollectionEvents, "admin-1", []byte(`{"title":"x","description":"y","date":"2026-04-01T17:00:00Z","category":"gala"}`))
	requireFieldError(t, err, "category")

	_, err = store.Create(ctx, CollectionTeamMembers, "admin-1", []byte(`{"name":"Lin","role":"Lead","department":"Tech","order":"first"}`))
	requireFieldError(t, err, "order")

	_, err = store.Create(ctx, CollectionNotices, "admin-1", []byte(`{}`))
	requireFieldError(t, err, "body")

	_, err = store.Create(ctx, CollectionNotices, "", []byte(`{"title":"t","content":"c"}`))
	requireFieldError(t, err, "createdBy")

	_, err = store.Create(ctx, Collection("members"), "admin-1", []byte(`{"title":"t"}`))
	require.ErrorIs(t, err, ErrUnknownCollection)
}

func TestCreateAcceptsDateOnlyValues(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	event := mustCreate(t, store, CollectionEvents, `{"title":"Hack Night","description":"d","date":"2026-11-01","category":"workshop"}`).(*Event)
	require.True(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC).Equal(event.Date))

	notice := mustCreate(t, store, CollectionNotices, `{"title":"t","content":"c","expiryDate":"2026-12-24T09:30"}`).(*Notice)
	require.NotNil(t, notice.ExpiryDate)
	require.True(t, time.Date(2026, time.December, 24, 9, 30, 0, 0, time.UTC).Equal(*notice.ExpiryDate))

	cleared := mustCreate(t, store, CollectionNotices, `{"title":"t","content":"c","expiryDate":""}`).(*Notice)
	require.Nil(t, cleared.ExpiryDate)

	_, err := store.Create(ctx, CollectionEvents, "admin-1", []byte(`{"title":"x","description":"y","date":"11/01/2026","category":"workshop"}`))
	requireFieldError(t, err, "date")

	_, err = store.Create(ctx, CollectionEvents, "admin-1", []byte(`{"title":"x","description":"y","date":20261101,"category":"workshop"}`))
	requireFieldError(t, err, "date")

	loaded, err := store.Get(ctx, CollectionEvents, event.ID)
	require.NoError(t, err)
	require.True(t, event.Date.Equal(loaded.(*Event).Date))
}

func TestDeleteThenGetReportsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CollectionNotices, `{"title":"Venue change","content":"Room 204"}`)

	deleted, err := store.Delete(ctx, CollectionNotices, created.Meta().ID)
	require.NoError(t, err)
	require.Equal(t, "Venue change", deleted.(*Notice).Title)

	_, err = store.Get(ctx, CollectionNotices, created.Meta().ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Delete(ctx, CollectionNotices, created.Meta().ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateKeepsImmutableFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CollectionPlanOfAction, `{"title":"Hackathon","description":"Spring edition"}`)

	updated, err := store.Update(ctx, CollectionPlanOfAction, created.Meta().ID, []byte(`{
		"_id": "other",
		"createdAt": "2020-01-01T00:00:00Z",
		"status": "in-progress",
		"priority": "high"
	}`))
	require.NoError(t, err)
	item := updated.(*PlanItem)
	require.Equal(t, created.Meta().ID, item.ID)
	require.Equal(t, "Hackathon", item.Title)
	require.Equal(t, "in-progress", item.Status)
	require.Equal(t, "high", item.Priority)
	require.True(t, fixedNow.Equal(item.CreatedAt))
	require.True(t, fixedNow.Equal(item.UpdatedAt))
	require.Equal(t, "admin-1", item.CreatedByID)

	_, err = store.Update(ctx, CollectionPlanOfAction, created.Meta().ID, []byte(`{"_id":"only-protected"}`))
	requireFieldError(t, err, "body")

	_, err = store.Update(ctx, CollectionPlanOfAction, "missing", []byte(`{"title":"x"}`))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Update(ctx, CollectionPlanOfAction, created.Meta().ID, []byte(`{"status":"abandoned"}`))
	requireFieldError(t, err, "status")
}

func TestPollEditPreservesVotesByIndex(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, CollectionPolls, `{
		"question": "Next meetup topic?",
		"options": [{"text": "Generics", "votes": 40}, {"text": "Fuzzing"}]
	}`)
	poll := created.(*Poll)
	require.Equal(t, int64(0), poll.TotalVotes)
	require.Equal(t, int64(0), poll.Options[0].Votes)
	require.Equal(t, PhaseActive, poll.Phase)
	require.Equal(t, fixedNow, poll.StartDate)

	for position, votes := range []int64{3, 5} {
		require.NoError(t, db.Model(&PollOption{}).
			Where("poll_id = ? AND position = ?", poll.ID, position).
			Update("votes", votes).Error)
	}
	require.NoError(t, db.Model(&Poll{}).Where("id = ?", poll.ID).Update("total_votes", 8).Error)

	updated, err := store.Update(ctx, CollectionPolls, poll.ID, []byte(`{
		"question": "Next meetup topic (final)?",
		"totalVotes": 999,
		"options": [{"text": "Go generics", "votes": 100}, {"text": "Fuzzing"}]
	}`))
	require.NoError(t, err)
	edited := updated.(*Poll)
	require.Equal(t, "Next meetup topic (final)?", edited.Question)
	require.Len(t, edited.Options, 2)
	require.Equal(t, "Go generics", edited.Options[0].Text)
	require.Equal(t, int64(3), edited.Options[0].Votes)
	require.Equal(t, int64(5), edited.Options[1].Votes)
	require.Equal(t, int64(8), edited.TotalVotes)

	loaded, err := store.Get(ctx, CollectionPolls, poll.ID)
	require.NoError(t, err)
	reloaded := loaded.(*Poll)
	require.Equal(t, []int64{3, 5}, []int64{reloaded.Options[0].Votes, reloaded.Options[1].Votes})
	require.Equal(t, int64(8), reloaded.TotalVotes)

	grown, err := store.Update(ctx, CollectionPolls, poll.ID, []byte(`{
		"options": [{"text": "Go generics"}, {"text": "Fuzzing"}, {"text": "Profiling"}]
	}`))
	require.NoError(t, err)
	require.Equal(t, int64(0), grown.(*Poll).Options[2].Votes)
	require.Equal(t, int64(8), grown.(*Poll).TotalVotes)
}

func TestPollValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CollectionPolls, "admin-1", []byte(`{"question":"Only one?","options":[{"text":"Yes"}]}`))
	requireFieldError(t, err, "options")

	_, err = store.Create(ctx, CollectionPolls, "admin-1", []byte(`{
		"question": "Backwards?",
		"options": [{"text":"a"},{"text":"b"}],
		"startDate": "2026-05-02T00:00:00Z",
		"endDate": "2026-05-01T00:00:00Z"
	}`))
	requireFieldError(t, err, "endDate")

	_, err = store.Create(ctx, CollectionPolls, "admin-1", []byte(`{"question":"Blank option","options":[{"text":"a"},{"text":"  "}]}`))
	requireFieldError(t, err, "options[1].text")
}

func TestBulkDeleteCountsOnlyExistingRecords(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, store, CollectionPolls, `{"question":"A?","options":[{"text":"x"},{"text":"y"}]}`)
	second := mustCreate(t, store, CollectionPolls, `{"question":"B?","options":[{"text":"x"},{"text":"y"}]}`)
	kept := mustCreate(t, store, CollectionPolls, `{"question":"C?","options":[{"text":"x"},{"text":"y"}]}`)

	deleted, err := store.BulkDelete(ctx, CollectionPolls, []string{" " + second.Meta().ID, first.Meta().ID, "missing", first.Meta().ID})
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted.Count)
	require.Equal(t, []string{first.Meta().ID, second.Meta().ID}, deleted.IDs)

	none, err := store.BulkDelete(ctx, CollectionPolls, []string{"missing"})
	require.NoError(t, err)
	require.Zero(t, none.Count)
	require.Empty(t, none.IDs)

	var optionCount int64
	require.NoError(t, db.Model(&PollOption{}).Count(&optionCount).Error)
	require.Equal(t, int64(2), optionCount)

	_, err = store.Get(ctx, CollectionPolls, kept.Meta().ID)
	require.NoError(t, err)

	_, err = store.BulkDelete(ctx, CollectionPolls, []string{" ", ""})
	requireFieldError(t, err, "ids")
}

func TestListPaginatesAndSorts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for index, name := range []string{"Chen", "Abebe", "Bruno"} {
		mustCreate(t, store, CollectionTeamMembers, fmt.Sprintf(`{"name":%q,"role":"Volunteer","department":"Tech","order":%d}`, name, index))
	}

	result, err := store.List(ctx, CollectionTeamMembers, ListQuery{Page: 1, Limit: 2, Sort: "name"})
	require.NoError(t, err)
	require.Equal(t, Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, result.Pagination)
	require.Len(t, result.Records, 2)
	require.Equal(t, "Abebe", result.Records[0].(*TeamMember).Name)
	require.Equal(t, "Bruno", result.Records[1].(*TeamMember).Name)
	require.NotNil(t, result.Records[0].Meta().CreatedBy)

	second, err := store.List(ctx, CollectionTeamMembers, ListQuery{Page: 2, Limit: 2, Sort: "name"})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	require.Equal(t, "Chen", second.Records[0].(*TeamMember).Name)

	descending, err := store.List(ctx, CollectionTeamMembers, ListQuery{Sort: "-order"})
	require.NoError(t, err)
	require.Equal(t, "Bruno", descending.Records[0].(*TeamMember).Name)
	require.Equal(t, defaultLimit, descending.Pagination.Limit)

	_, err = store.List(ctx, CollectionTeamMembers, ListQuery{Sort: "password"})
	requireFieldError(t, err, "sort")
}

func TestListPublicAppliesVisibilityFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, CollectionNotices, `{"title":"Visible","content":"c","priority":1}`)
	mustCreate(t, store, CollectionNotices, `{"title":"Pinned","content":"c","priority":5,"targetAudience":"public"}`)
	mustCreate(t, store, CollectionNotices, `{"title":"Hidden","content":"c","isActive":false}`)
	mustCreate(t, store, CollectionNotices, `{"title":"Expired","content":"c","expiryDate":"2026-03-01T00:00:00Z"}`)
	mustCreate(t, store, CollectionNotices, `{"title":"Members","content":"c","targetAudience":"members"}`)

	notices, err := store.ListPublic(ctx, CollectionNotices)
	require.NoError(t, err)
	titles := make([]string, 0, len(notices))
	for _, record := range notices {
		titles = append(titles, record.(*Notice).Title)
		require.Nil(t, record.Meta().CreatedBy)
	}
	require.Equal(t, []string{"Pinned", "Visible"}, titles)

	mustCreate(t, store, CollectionPolls, `{"question":"Live?","options":[{"text":"a"},{"text":"b"}]}`)
	mustCreate(t, store, CollectionPolls, `{"question":"Draft?","status":"draft","options":[{"text":"a"},{"text":"b"}]}`)
	mustCreate(t, store, CollectionPolls, `{"question":"Later?","startDate":"2026-04-01T00:00:00Z","options":[{"text":"a"},{"text":"b"}]}`)

	polls, err := store.ListPublic(ctx, CollectionPolls)
	require.NoError(t, err)
	require.Len(t, polls, 1)
	require.Equal(t, "Live?", polls[0].(*Poll).Question)
	require.Len(t, polls[0].(*Poll).Options, 2)
}

func TestStatsCountsEveryCollection(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, CollectionEvents, `{"title":"Meetup","description":"d","date":"2026-04-01T17:00:00Z","category":"weekly-cadence"}`)
	mustCreate(t, store, CollectionNotices, `{"title":"n","content":"c"}`)
	mustCreate(t, store, CollectionNotices, `{"title":"m","content":"c"}`)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Events: 1, Notices: 2, Total: 3}, stats)
}

func TestOrderClauseDefaultsAndTieBreaks(t *testing.T) {
	registry := NewRegistry()
	schema, err := registry.Resolve("events")
	require.NoError(t, err)

	clause, err := orderClause(schema, "")
	require.NoError(t, err)
	require.Equal(t, "created_at DESC, id ASC", clause)

	clause, err = orderClause(schema, "+date,-title")
	require.NoError(t, err)
	require.Equal(t, "date ASC, title DESC, id ASC", clause)

	_, err = registry.Resolve("users")
	require.ErrorIs(t, err, ErrUnknownCollection)
}
