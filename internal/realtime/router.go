package realtime

import (
	"fmt"

	"membersonly-live/internal/auth"
	"membersonly-live/internal/events"
	"membersonly-live/internal/logging"
	"membersonly-live/internal/querycache"
)

// RedirectReasonDeletedByAdmin is the reason attached to the home redirect
// after an administrator deletes the signed-in account.
const RedirectReasonDeletedByAdmin = "deleted-by-admin"

var (
	allCategories     = []querycache.Category{querycache.Messages, querycache.Users, querycache.Bookmarks}
	removalCategories = []querycache.Category{querycache.Messages, querycache.Bookmarks, querycache.Users}
)

// Decision is what one event asks of the session, the cache and the user.
type Decision struct {
	Invalidate []querycache.Category

	// RefreshSession requests a token refresh. Notify is shown only after
	// that refresh succeeds.
	RefreshSession bool
	Notify         string

	// EndSession clears credentials, resets the cache, drops the
	// error-tracking user and redirects.
	EndSession     bool
	RedirectPath   string
	RedirectReason string
}

// Plan maps an event and the signed-in viewer to a Decision. It has no side
// effects.
func Plan(event events.Event, viewer auth.User) Decision {
	switch ev := event.(type) {
	case events.MultiPurpose:
		return planMultiPurpose(ev, viewer)
	case events.UserList:
		if viewer.Role == auth.RoleAdmin {
			return Decision{Invalidate: []querycache.Category{querycache.Users}}
		}
		return Decision{}
	case events.Message:
		if ev.Reason == events.ReasonMessageCreated {
			return Decision{Invalidate: []querycache.Category{querycache.Messages}}
		}
		if viewer.Role == auth.RoleUser {
			return Decision{Invalidate: []querycache.Category{querycache.Messages}}
		}
		return Decision{Invalidate: []querycache.Category{querycache.Messages, querycache.Bookmarks}}
	default:
		return Decision{}
	}
}

func planMultiPurpose(ev events.MultiPurpose, viewer auth.User) Decision {
	self := ev.TargetID != "" && viewer.ID != "" && string(ev.TargetID) == viewer.ID
	switch ev.Reason {
	case events.ReasonRoleChange:
		if self {
			return Decision{
				Invalidate:     allCategories,
				RefreshSession: true,
				Notify:         RoleChangeMessage(ev.TargetUserRole, ev.OriginUsername),
			}
		}
		return Decision{Invalidate: allCategories}
	case events.ReasonDeletedByAdmin:
		if self {
			return Decision{
				EndSession:     true,
				RedirectPath:   "/",
				RedirectReason: RedirectReasonDeletedByAdmin,
			}
		}
		return Decision{Invalidate: removalCategories}
	default:
		return Decision{Invalidate: removalCategories}
	}
}

// RoleChangeMessage leaves out the new role or the actor when the event
// did not carry them.
func RoleChangeMessage(role string, origin string) string {
	switch {
	case role != "" && origin != "":
		return fmt.Sprintf("Your role has been changed to %s by @%s", role, origin)
	case role != "":
		return fmt.Sprintf("Your role has been changed to %s", role)
	case origin != "":
		return fmt.Sprintf("Your role has been changed by @%s", origin)
	default:
		return "Your role has been changed"
	}
}

// execute carries out d. The refresh runs in the background; everything else
// happens before execute returns.
func (s *Service) execute(event events.Event, d Decision) {
	if d.EndSession {
		s.endSession(d)
		return
	}
	if d.RefreshSession {
		s.refreshForRoleChange(d.Notify)
	}
	if len(d.Invalidate) > 0 {
		s.cache.Invalidate(d.Invalidate...)
		for _, category := range d.Invalidate {
			s.metrics.Invalidated(string(category))
		}
		s.logger.Debug("cache invalidated",
			logging.Field("event", event.EventName()),
			logging.Field("categories", d.Invalidate),
		)
	}
}

func (s *Service) endSession(d Decision) {
	s.logger.Warn("account deleted by an administrator; ending session")
	if session := s.sessionSource(); session != nil {
		session.ClearCredentials()
	}
	s.cache.ResetAll()
	s.reporter.ClearUser()
	s.navigator.Redirect(d.RedirectPath, d.RedirectReason)
}

func (s *Service) refreshForRoleChange(message string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.refresher.Refresh(s.baseCtx); err != nil {
			s.logger.Warn("session refresh after role change failed", logging.Field("error", err))
			return
		}
		s.logger.Info("session refreshed after role change")
		s.notifier.Notify(message)
	}()
}
