package content

import (
	"time"

	"gorm.io/datatypes"
)

// Event is a chapter event (signature event, workshop, weekly cadence, ...).
type Event struct {
	Base
	Title       string    `gorm:"column:title;size:300;not null" json:"title" validate:"required,max=300"`
	Description string    `gorm:"column:description;type:text;not null" json:"description" validate:"required"`
	Date        time.Time `gorm:"column:date;not null;index:idx_events_category_date,priority:2" json:"date" validate:"required"`
	Location    string    `gorm:"column:location;size:300" json:"location" validate:"max=300"`
	ImageURL    string    `gorm:"column:image_url;size:1024" json:"imageUrl" validate:"omitempty,url,max=1024"`
	Category    string    `gorm:"column:category;size:32;not null;index:idx_events_category_date,priority:1" json:"category" validate:"required,oneof=signature past flagship workshop weekly-cadence"`
	Status      string    `gorm:"column:status;size:32;not null;index" json:"status" validate:"required,oneof=upcoming ongoing completed cancelled"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

func newEvent() *Event {
	return &Event{Status: "upcoming"}
}

func (e *Event) normalize() {
	trim(&e.Title, &e.Location, &e.ImageURL)
	e.Date = e.Date.UTC()
}

// SocialLinks groups a team member's public profiles.
type SocialLinks struct {
	LinkedIn string `json:"linkedin"`
	GitHub   string `json:"github"`
	Twitter  string `json:"twitter"`
	Email    string `json:"email"`
}

// TeamMember is a member of the organizing team shown on the website.
type TeamMember struct {
	Base
	Name        string                         `gorm:"column:name;size:190;not null" json:"name" validate:"required,max=190"`
	Role        string                         `gorm:"column:role;size:190;not null" json:"role" validate:"required,max=190"`
	Department  string                         `gorm:"column:department;size:32;not null;index:idx_team_department_order,priority:1" json:"department" validate:"required,oneof=Tech Design PR Media Lead"`
	ImageURL    string                         `gorm:"column:image_url;size:1024" json:"imageUrl" validate:"omitempty,url,max=1024"`
	Bio         string                         `gorm:"column:bio;type:text" json:"bio"`
	SocialLinks datatypes.JSONType[SocialLinks] `gorm:"column:social_links" json:"socialLinks"`
	Order       int                            `gorm:"column:display_order;not null;index:idx_team_department_order,priority:2" json:"order" validate:"gte=0"`
	IsActive    bool                           `gorm:"column:is_active;not null;index" json:"isActive"`
}

// TableName provides the explicit table binding for GORM.
func (TeamMember) TableName() string {
	return "team_members"
}

func newTeamMember() *TeamMember {
	return &TeamMember{IsActive: true}
}

func (m *TeamMember) normalize() {
	trim(&m.Name, &m.Role, &m.ImageURL)
}

// Notice is a site-wide announcement.
type Notice struct {
	Base
	Title          string     `gorm:"column:title;size:300;not null" json:"title" validate:"required,max=300"`
	Content        string     `gorm:"column:content;type:text;not null" json:"content" validate:"required"`
	Type           string     `gorm:"column:type;size:16;not null" json:"type" validate:"required,oneof=info warning success urgent"`
	IsActive       bool       `gorm:"column:is_active;not null;index:idx_notices_active_priority,priority:1" json:"isActive"`
	Priority       int        `gorm:"column:priority;not null;index:idx_notices_active_priority,priority:2" json:"priority"`
	ExpiryDate     *time.Time `gorm:"column:expiry_date;index" json:"expiryDate"`
	TargetAudience string     `gorm:"column:target_audience;size:16;not null" json:"targetAudience" validate:"required,oneof=all members public"`
}

// TableName provides the explicit table binding for GORM.
func (Notice) TableName() string {
	return "notices"
}

func newNotice() *Notice {
	return &Notice{Type: "info", IsActive: true, TargetAudience: "all"}
}

func (n *Notice) normalize() {
	trim(&n.Title)
	n.ExpiryDate = utcPointer(n.ExpiryDate)
}

// PlanItem is one entry of the chapter's plan of action.
type PlanItem struct {
	Base
	Title         string     `gorm:"column:title;size:300;not null" json:"title" validate:"required,max=300"`
	Description   string     `gorm:"column:description;type:text;not null" json:"description" validate:"required"`
	Category      string     `gorm:"column:category;size:32;not null" json:"category" validate:"required,oneof=technical community outreach internal other"`
	Priority      string     `gorm:"column:priority;size:16;not null;index:idx_plan_status_priority,priority:2" json:"priority" validate:"required,oneof=low medium high urgent"`
	Status        string     `gorm:"column:status;size:32;not null;index:idx_plan_status_priority,priority:1" json:"status" validate:"required,oneof=planned in-progress completed on-hold"`
	TargetDate    *time.Time `gorm:"column:target_date" json:"targetDate"`
	CompletedDate *time.Time `gorm:"column:completed_date" json:"completedDate"`
	Order         int        `gorm:"column:display_order;not null" json:"order" validate:"gte=0"`
}

// TableName provides the explicit table binding for GORM.
func (PlanItem) TableName() string {
	return "plan_items"
}

func newPlanItem() *PlanItem {
	return &PlanItem{Category: "other", Priority: "medium", Status: "planned"}
}

func (p *PlanItem) normalize() {
	trim(&p.Title)
	p.TargetDate = utcPointer(p.TargetDate)
	p.CompletedDate = utcPointer(p.CompletedDate)
}
