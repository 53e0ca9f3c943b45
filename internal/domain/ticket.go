package domain

import "time"

// Role identifies who authored a message or triggered a reply event.
type Role string

const (
	RoleUser   Role = "user"
	RoleStaff  Role = "staff"
	RoleSystem Role = "system"
)

// Channel is a ticket channel as seen by the host platform.
type Channel struct {
	ID         string `json:"id"`
	GuildID    string `json:"guild_id,omitempty"`
	Name       string `json:"name,omitempty"`
	CategoryID string `json:"category_id,omitempty"` // "" when the channel sits outside any category
}

// Message is one entry of a ticket channel's history.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	Role      Role      `json:"role"`
	Markers   []string  `json:"markers,omitempty"` // normalised embed colours or tags
	Timestamp time.Time `json:"timestamp"`
}

// ReplyEvent is emitted by a host whenever someone replies in a ticket channel.
type ReplyEvent struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // discord | webhook
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id"`
	Role      Role      `json:"role"`
	Anonymous bool      `json:"anonymous,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CategoryConfig holds the four category ids that drive relocation.
// An empty string means the category is not configured.
type CategoryConfig struct {
	WaitingUser  string `json:"waiting_user"`
	WaitingStaff string `json:"waiting_staff"`
	Closing      string `json:"closing"`
	Recruitment  string `json:"recruitment"`
}

// Managed returns every configured category id.
func (c CategoryConfig) Managed() []string {
	var ids []string
	for _, id := range []string{c.WaitingUser, c.WaitingStaff, c.Closing, c.Recruitment} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsRecruitment reports whether categoryID is the configured recruitment category.
func (c CategoryConfig) IsRecruitment(categoryID string) bool {
	return c.Recruitment != "" && categoryID == c.Recruitment
}

type DecisionKind string

const (
	DecisionNoOp   DecisionKind = "noop"
	DecisionMoveTo DecisionKind = "move"
)

// Decision is the pure output of the routing policy.
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Target string       `json:"target,omitempty"`
	Reason string       `json:"reason"`
}

// Decision reasons.
const (
	ReasonRecruitmentExempt   = "recruitment_exempt"
	ReasonSystemSender        = "system_sender"
	ReasonTargetUnset         = "target_unset"
	ReasonAlreadyInTarget     = "already_in_target"
	ReasonTargetMissing       = "target_missing"
	ReasonStaffNotEngaged     = "staff_not_engaged"
	ReasonStaffReply          = "staff_reply"
	ReasonUserReplyAfterStaff = "user_reply_after_staff"
	ReasonClosing             = "closing"
	ReasonHistoryUnavailable  = "history_unavailable"
	ReasonLookupFailed        = "lookup_failed"
)

func NoOp(reason string) Decision {
	return Decision{Kind: DecisionNoOp, Reason: reason}
}

func MoveTo(target, reason string) Decision {
	return Decision{Kind: DecisionMoveTo, Target: target, Reason: reason}
}

func (d Decision) IsMove() bool { return d.Kind == DecisionMoveTo }
