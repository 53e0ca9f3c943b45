package routing

import "automove/internal/domain"

// Decide is the reply-driven state machine. It has no side effects.
//
//  1. a channel in the recruitment category never moves
//  2. system chatter never moves a channel
//  3. a staff reply sends the channel to waiting-user
//  4. a user reply sends it to waiting-staff, once staff has engaged
//
// An unset target or a channel already at the target yields NoOp.
func Decide(ev domain.ReplyEvent, ch domain.Channel, cfg domain.CategoryConfig, staffReplied bool) domain.Decision {
	if cfg.IsRecruitment(ch.CategoryID) {
		return domain.NoOp(domain.ReasonRecruitmentExempt)
	}

	switch ev.Role {
	case domain.RoleStaff:
		return resolve(ch, cfg.WaitingUser, domain.ReasonStaffReply)
	case domain.RoleUser:
		if d := resolve(ch, cfg.WaitingStaff, domain.ReasonUserReplyAfterStaff); !d.IsMove() {
			return d
		}
		if !staffReplied {
			return domain.NoOp(domain.ReasonStaffNotEngaged)
		}
		return domain.MoveTo(cfg.WaitingStaff, domain.ReasonUserReplyAfterStaff)
	default:
		return domain.NoOp(domain.ReasonSystemSender)
	}
}

// DecideClosing is the manual transition to the closing category.
// Recruitment channels may be closed like any other.
func DecideClosing(ch domain.Channel, cfg domain.CategoryConfig) domain.Decision {
	return resolve(ch, cfg.Closing, domain.ReasonClosing)
}

// needsHistory reports whether the user branch of Decide depends on the
// history scan at all.
func needsHistory(ev domain.ReplyEvent, ch domain.Channel, cfg domain.CategoryConfig) bool {
	return ev.Role == domain.RoleUser &&
		!cfg.IsRecruitment(ch.CategoryID) &&
		resolve(ch, cfg.WaitingStaff, "").IsMove()
}

func resolve(ch domain.Channel, target, reason string) domain.Decision {
	switch target {
	case "":
		return domain.NoOp(domain.ReasonTargetUnset)
	case ch.CategoryID:
		return domain.NoOp(domain.ReasonAlreadyInTarget)
	}
	return domain.MoveTo(target, reason)
}
