package review

import (
	"slices"
	"time"

	"backend-ratemycoffee/internal/auth"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusFlagged   = "flagged"
	StatusRemoved   = "removed"
)

var Statuses = []string{StatusDraft, StatusPublished, StatusFlagged, StatusRemoved}

// transitions lists the statuses reachable from each status. Removed is
// terminal.
var transitions = map[string][]string{
	StatusDraft:     {StatusPublished, StatusRemoved},
	StatusPublished: {StatusDraft, StatusFlagged, StatusRemoved},
	StatusFlagged:   {StatusPublished, StatusRemoved},
}

// CanTransition reports whether a review may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	return from == to || slices.Contains(transitions[from], to)
}

type Review struct {
	ID                int64              `json:"id"`
	ShopID            int64              `json:"shop_id"`
	AuthorUserID      *int64             `json:"author_user_id"`
	IsAnonymous       bool               `json:"is_anonymous"`
	Body              *string            `json:"body"`
	Ratings           map[string]float64 `json:"ratings"`
	OverallScore      *float64           `json:"overall_score"`
	VisitedAt         *string            `json:"visited_at"`
	SpendPHP          *float64           `json:"spend_php"`
	OrderedItems      []string           `json:"ordered_items"`
	TasteProfile      map[string]any     `json:"taste_profile"`
	SeatContext       *string            `json:"seat_context"`
	InternetSpeedMbps *float64           `json:"internet_speed_mbps"`
	Status            string             `json:"status"`
	FlaggedCount      int                `json:"flagged_count"`
	AdminNotes        *string            `json:"admin_notes,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// ForViewer hides moderation notes from everyone but moderators and
// admins, and the author of anonymous reviews from everyone but the
// author and moderators.
func (r Review) ForViewer(actor auth.Actor) Review {
	moderator := actor.Is(auth.RoleAdmin, auth.RoleModerator)
	if !moderator {
		r.AdminNotes = nil
	}
	if r.IsAnonymous && !moderator && (r.AuthorUserID == nil || *r.AuthorUserID != actor.UserID) {
		r.AuthorUserID = nil
	}
	return r
}

// VisibleTo reports whether actor may read the review. Drafts belong to
// their author until published.
func (r Review) VisibleTo(actor auth.Actor) bool {
	if r.Status != StatusDraft || actor.Is(auth.RoleAdmin, auth.RoleModerator) {
		return true
	}
	return actor.Authenticated() && r.AuthorUserID != nil && *r.AuthorUserID == actor.UserID
}

// Input is the create and update payload. ShopID and AdminNotes are only
// honoured on update.
type Input struct {
	ShopID            *int64             `json:"shop_id" validate:"omitempty,gte=1"`
	IsAnonymous       *bool              `json:"is_anonymous"`
	Body              *string            `json:"body"`
	Ratings           map[string]float64 `json:"ratings" validate:"omitempty,dive,gte=0.5,lte=5,halfstep"`
	VisitedAt         *string            `json:"visited_at" validate:"omitempty,isodate"`
	SpendPHP          *float64           `json:"spend_php" validate:"omitempty,gte=0"`
	OrderedItems      []string           `json:"ordered_items" validate:"omitempty,dive,max=255"`
	TasteProfile      map[string]any     `json:"taste_profile"`
	SeatContext       *string            `json:"seat_context"`
	InternetSpeedMbps *float64           `json:"internet_speed_mbps" validate:"omitempty,gte=0"`
	Status            *string            `json:"status" validate:"omitempty,oneof=draft published flagged removed"`
	AdminNotes        *string            `json:"admin_notes"`
}

// Client identifies where a review was submitted from.
type Client struct {
	IP        string
	UserAgent string
}
