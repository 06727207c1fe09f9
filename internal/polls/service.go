// Package polls implements voting, tallying and lifecycle sweeps over the
// poll collection.
package polls

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies of the poll service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	// UniqueVoters rejects a second vote carrying the same non-empty voter id.
	UniqueVoters bool
	Logger       *zap.Logger
}

// Service records votes and reports poll results.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	idProvider   ids.Provider
	uniqueVoters bool
	logger       *zap.Logger
}

// OptionResult is one option's share of the vote.
type OptionResult struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// Analytics summarizes a poll's counters and its response log.
type Analytics struct {
	PollID            string         `json:"pollId"`
	Question          string         `json:"question"`
	Phase             content.Phase  `json:"phase"`
	TotalVotes        int64          `json:"totalVotes"`
	TotalResponses    int64          `json:"totalResponses"`
	ResponsesByOption map[int]int64  `json:"responsesByOption"`
	Options           []OptionResult `json:"options"`
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           cfg.Database,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		uniqueVoters: cfg.UniqueVoters,
		logger:       logger,
	}, nil
}

// SubmitVote records one vote for optionIndex and returns the updated poll.
// The response row and both counters are written in one transaction.
func (s *Service) SubmitVote(ctx context.Context, pollID string, optionIndex int, voterID string) (content.Poll, error) {
	voterID = strings.TrimSpace(voterID)
	now := s.clock().UTC()

	var updated content.Poll
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := loadPoll(tx, pollID)
		if err != nil {
			return err
		}
		if poll.PhaseAt(now) != content.PhaseActive {
			return ErrPollNotActive
		}
		if optionIndex < 0 || optionIndex >= len(poll.Options) {
			return ErrInvalidOption
		}
		if s.uniqueVoters && voterID != "" {
			var previous int64
			if err := tx.Model(&content.PollResponse{}).
				Where("poll_id = ? AND voter_id = ?", poll.ID, voterID).
				Count(&previous).Error; err != nil {
				return newServiceError(opVote, "voter_lookup_failed", err)
			}
			if previous > 0 {
				return ErrAlreadyVoted
			}
		}

		responseID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opVote, "id_generation_failed", err)
		}
		response := content.PollResponse{
			ID:          responseID,
			PollID:      poll.ID,
			OptionIndex: optionIndex,
			VoterID:     voterID,
			CreatedAt:   now,
		}
		if err := tx.Create(&response).Error; err != nil {
			return newServiceError(opVote, "response_insert_failed", err)
		}
		if err := tx.Model(&content.PollOption{}).
			Where("poll_id = ? AND position = ?", poll.ID, optionIndex).
			Update("votes", gorm.Expr("votes + ?", 1)).Error; err != nil {
			return newServiceError(opVote, "option_increment_failed", err)
		}
		if err := tx.Model(&content.Poll{}).
			Where("id = ?", poll.ID).
			Update("total_votes", gorm.Expr("total_votes + ?", 1)).Error; err != nil {
			return newServiceError(opVote, "total_increment_failed", err)
		}

		reloaded, err := loadPoll(tx, poll.ID)
		if err != nil {
			return err
		}
		updated = reloaded
		return nil
	})
	if err != nil {
		if isServiceError(err) {
			s.logError(opVote, "transaction_failed", err, zap.String("poll_id", pollID))
		}
		return content.Poll{}, err
	}
	updated.Phase = updated.PhaseAt(now)
	s.logger.Debug("poll vote recorded",
		zap.String("poll_id", updated.ID),
		zap.Int("option_index", optionIndex))
	return updated, nil
}

// HasVoted reports whether voterID already has a response on the poll.
func (s *Service) HasVoted(ctx context.Context, pollID, voterID string) (bool, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&content.PollResponse{}).
		Where("poll_id = ? AND voter_id = ?", pollID, voterID).
		Count(&count).Error; err != nil {
		s.logError(opHasVoted, "query_failed", err, zap.String("poll_id", pollID))
		return false, newServiceError(opHasVoted, "query_failed", err)
	}
	return count > 0, nil
}

// ActivePolls lists polls that are stored active, have started and have not ended.
func (s *Service) ActivePolls(ctx context.Context) ([]content.Poll, error) {
	now := s.clock().UTC()
	var polls []content.Poll
	err := withOptions(s.db.WithContext(ctx)).
		Where("status = ?", content.PollStatusActive).
		Where("start_date <= ?", now).
		Where("end_date IS NULL OR end_date >= ?", now).
		Order("start_date DESC").
		Order("id ASC").
		Find(&polls).Error
	if err != nil {
		s.logError(opActive, "query_failed", err)
		return nil, newServiceError(opActive, "query_failed", err)
	}
	for index := range polls {
		polls[index].Phase = polls[index].PhaseAt(now)
	}
	return polls, nil
}

// Analytics tallies the poll's response log next to its counters.
func (s *Service) Analytics(ctx context.Context, pollID string) (Analytics, error) {
	db := s.db.WithContext(ctx)
	poll, err := loadPoll(db, pollID)
	if err != nil {
		if !errors.Is(err, ErrPollNotFound) {
			s.logError(opAnalytics, "poll_lookup_failed", err, zap.String("poll_id", pollID))
		}
		return Analytics{}, err
	}

	var tallies []struct {
		OptionIndex int
		Responses   int64
	}
	if err := db.Model(&content.PollResponse{}).
		Select("option_index, COUNT(*) AS responses").
		Where("poll_id = ?", poll.ID).
		Group("option_index").
		Scan(&tallies).Error; err != nil {
		s.logError(opAnalytics, "tally_failed", err, zap.String("poll_id", pollID))
		return Analytics{}, newServiceError(opAnalytics, "tally_failed", err)
	}

	result := Analytics{
		PollID:            poll.ID,
		Question:          poll.Question,
		Phase:             poll.PhaseAt(s.clock().UTC()),
		TotalVotes:        poll.TotalVotes,
		ResponsesByOption: make(map[int]int64, len(tallies)),
		Options:           make([]OptionResult, 0, len(poll.Options)),
	}
	for _, tally := range tallies {
		result.ResponsesByOption[tally.OptionIndex] = tally.Responses
		result.TotalResponses += tally.Responses
	}
	for index, option := range poll.Options {
		result.Options = append(result.Options, OptionResult{
			Index:      index,
			Text:       option.Text,
			Votes:      option.Votes,
			Percentage: percentage(option.Votes, poll.TotalVotes),
		})
	}
	return result, nil
}

// DeactivateExpired flips active polls whose end date has passed to inactive
// and returns their ids.
func (s *Service) DeactivateExpired(ctx context.Context) ([]string, error) {
	now := s.clock().UTC()
	var expired []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&content.Poll{}).
			Where("status = ?", content.PollStatusActive).
			Where("end_date IS NOT NULL AND end_date < ?", now).
			Order("id ASC").
			Pluck("id", &expired).Error; err != nil {
			return newServiceError(opDeactivate, "query_failed", err)
		}
		if len(expired) == 0 {
			return nil
		}
		if err := tx.Model(&content.Poll{}).
			Where("id IN ?", expired).
			Updates(map[string]any{"status": content.PollStatusInactive, "updated_at": now}).Error; err != nil {
			return newServiceError(opDeactivate, "update_failed", err)
		}
		return nil
	})
	if err != nil {
		s.logError(opDeactivate, "transaction_failed", err)
		return nil, err
	}
	if len(expired) > 0 {
		s.logger.Info("expired polls deactivated", zap.Strings("poll_ids", expired))
	}
	return expired, nil
}

// Find loads the listed polls with their options.
func (s *Service) Find(ctx context.Context, pollIDs []string) ([]content.Poll, error) {
	if len(pollIDs) == 0 {
		return nil, nil
	}
	now := s.clock().UTC()
	var polls []content.Poll
	if err := withOptions(s.db.WithContext(ctx)).
		Where("id IN ?", pollIDs).
		Order("id ASC").
		Find(&polls).Error; err != nil {
		s.logError(opFind, "query_failed", err)
		return nil, newServiceError(opFind, "query_failed", err)
	}
	for index := range polls {
		polls[index].Phase = polls[index].PhaseAt(now)
	}
	return polls, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("poll service error", attrs...)
}

func loadPoll(db *gorm.DB, pollID string) (content.Poll, error) {
	pollID = strings.TrimSpace(pollID)
	if pollID == "" {
		return content.Poll{}, ErrPollNotFound
	}
	var poll content.Poll
	err := withOptions(db).Where("id = ?", pollID).Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Poll{}, ErrPollNotFound
	}
	if err != nil {
		return content.Poll{}, newServiceError(opFind, "query_failed", err)
	}
	return poll, nil
}

func withOptions(db *gorm.DB) *gorm.DB {
	return db.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	})
}

// percentage rounds votes/total to one decimal place.
func percentage(votes, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(votes)*1000/float64(total)) / 10
}

func isServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}
