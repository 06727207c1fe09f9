package content

import (
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"gorm.io/gorm"
)

// Stored poll statuses. Phase adds the time-derived states on top of these.
const (
	PollStatusDraft    = "draft"
	PollStatusActive   = "active"
	PollStatusInactive = "inactive"
)

// Phase is the read-time lifecycle state of a poll.
type Phase string

const (
	PhaseDraft     Phase = "draft"
	PhaseScheduled Phase = "scheduled"
	PhaseActive    Phase = "active"
	PhaseEnded     Phase = "ended"
	PhaseInactive  Phase = "inactive"
)

// Poll is a question with an ordered list of options. Option positions are
// the vote targets and stay stable across edits.
type Poll struct {
	Base
	Question               string       `gorm:"column:question;size:500;not null" json:"question" validate:"required,max=500"`
	Description            string       `gorm:"column:description;type:text" json:"description"`
	Options                []PollOption `gorm:"foreignKey:PollID;references:ID" json:"options" validate:"min=2,max=6,dive"`
	Status                 string       `gorm:"column:status;size:16;not null;index:idx_polls_status_end,priority:1" json:"status" validate:"required,oneof=draft active inactive"`
	StartDate              time.Time    `gorm:"column:start_date;not null" json:"startDate"`
	EndDate                *time.Time   `gorm:"column:end_date;index:idx_polls_status_end,priority:2" json:"endDate"`
	ShowResultsAfterVoting bool         `gorm:"column:show_results_after_voting;not null" json:"showResultsAfterVoting"`
	TotalVotes             int64        `gorm:"column:total_votes;not null" json:"totalVotes"`
	Phase                  Phase        `gorm:"-" json:"phase,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Poll) TableName() string {
	return "polls"
}

// PollOption is one answer of a poll; Position is its index in Options.
type PollOption struct {
	PollID   string `gorm:"column:poll_id;primaryKey;size:64;not null" json:"-"`
	Position int    `gorm:"column:position;primaryKey;not null;autoIncrement:false" json:"-"`
	Text     string `gorm:"column:text;size:300;not null" json:"text" validate:"required,max=300"`
	Votes    int64  `gorm:"column:votes;not null" json:"votes"`
}

// TableName provides the explicit table binding for GORM.
func (PollOption) TableName() string {
	return "poll_options"
}

// PollResponse is one append-only vote event.
type PollResponse struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null" json:"_id"`
	PollID      string    `gorm:"column:poll_id;size:64;not null;index:idx_poll_responses_voter,priority:1" json:"pollId"`
	OptionIndex int       `gorm:"column:option_index;not null" json:"optionIndex"`
	VoterID     string    `gorm:"column:voter_id;size:190;not null;default:'';index:idx_poll_responses_voter,priority:2" json:"voterId"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"timestamp"`
}

// TableName provides the explicit table binding for GORM.
func (PollResponse) TableName() string {
	return "poll_responses"
}

func newPoll() *Poll {
	return &Poll{Status: PollStatusActive, ShowResultsAfterVoting: true}
}

// PhaseAt derives the lifecycle state at now.
func (p *Poll) PhaseAt(now time.Time) Phase {
	switch p.Status {
	case PollStatusDraft:
		return PhaseDraft
	case PollStatusInactive:
		return PhaseInactive
	}
	if now.Before(p.StartDate) {
		return PhaseScheduled
	}
	if p.EndDate != nil && p.EndDate.Before(now) {
		return PhaseEnded
	}
	return PhaseActive
}

// SumOptionVotes adds the per-option counters.
func (p *Poll) SumOptionVotes() int64 {
	var sum int64
	for _, option := range p.Options {
		sum += option.Votes
	}
	return sum
}

func (p *Poll) normalize() {
	trim(&p.Question)
	for index := range p.Options {
		trim(&p.Options[index].Text)
		p.Options[index].PollID = p.ID
		p.Options[index].Position = index
	}
	p.StartDate = p.StartDate.UTC()
	p.EndDate = utcPointer(p.EndDate)
}

func (p *Poll) check() error {
	if p.EndDate != nil && !p.EndDate.After(p.StartDate) {
		return validation.New("endDate", "endDate must be after startDate")
	}
	return nil
}

func (p *Poll) prepareCreate(now time.Time) {
	if p.StartDate.IsZero() {
		p.StartDate = now
	}
	for index := range p.Options {
		p.Options[index].Votes = 0
	}
	p.TotalVotes = 0
}

// mergeUpdate carries vote counts over by option index; options beyond the
// previous list start at zero and dropped options take their votes with them.
func (p *Poll) mergeUpdate(previous Record) {
	prior, ok := previous.(*Poll)
	if !ok {
		return
	}
	if p.StartDate.IsZero() {
		p.StartDate = prior.StartDate
	}
	for index := range p.Options {
		var votes int64
		if index < len(prior.Options) {
			votes = prior.Options[index].Votes
		}
		p.Options[index].Votes = votes
	}
	p.TotalVotes = p.SumOptionVotes()
}

func (p *Poll) saveChildren(tx *gorm.DB) error {
	if err := tx.Where("poll_id = ?", p.ID).Delete(&PollOption{}).Error; err != nil {
		return err
	}
	if len(p.Options) == 0 {
		return nil
	}
	for index := range p.Options {
		p.Options[index].PollID = p.ID
		p.Options[index].Position = index
	}
	return tx.Create(&p.Options).Error
}

func (p *Poll) decorate(now time.Time) {
	p.Phase = p.PhaseAt(now)
}

func preloadPollOptions(db *gorm.DB) *gorm.DB {
	return db.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	})
}

func deletePollChildren(tx *gorm.DB, pollIDs []string) error {
	if err := tx.Where("poll_id IN ?", pollIDs).Delete(&PollOption{}).Error; err != nil {
		return err
	}
	return tx.Where("poll_id IN ?", pollIDs).Delete(&PollResponse{}).Error
}
