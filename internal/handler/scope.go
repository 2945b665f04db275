package handler

import (
	"errors"
	"strings"
	"time"

	"servchat/internal/model"
	"servchat/internal/realtime"
)

var errScopeForbidden = errors.New("scope not allowed")

func canReadSector(u model.User, sector string) bool {
	return u.Role == model.RoleAdmin || u.Sector == sector
}

func inConversation(userID, key string) bool {
	a, b, ok := strings.Cut(key, ":")
	return ok && (a == userID || b == userID)
}

// authorizeScope decides whether u may subscribe to scope on the change feed.
// It mirrors the row filters applied to the corresponding reads. Tables whose
// rows are filtered per user after subscribing go through visibleChange.
func authorizeScope(u model.User, scope realtime.Scope) error {
	if !scope.Table.Valid() {
		return errors.New("unknown table")
	}
	admin := u.Role == model.RoleAdmin

	switch scope.Table {
	case realtime.TableMessages:
		if scope.Column == "sector" && canReadSector(u, scope.Value) {
			return nil
		}
		if admin {
			return nil
		}
	case realtime.TableDirectMessages:
		switch scope.Column {
		case "conversation":
			if inConversation(u.ID, scope.Value) {
				return nil
			}
		case "sender_id", "recipient_id":
			if scope.Value == u.ID {
				return nil
			}
		}
	case realtime.TableAnnouncementReads, realtime.TablePermissions:
		if admin || (scope.Column == "user_id" && scope.Value == u.ID) {
			return nil
		}
	case realtime.TableFacialData:
		if admin {
			return nil
		}
	case realtime.TableAnnouncements, realtime.TableTasks, realtime.TablePresence, realtime.TableUsers:
		return nil
	}
	return errScopeForbidden
}

// visibleChange narrows ev to what u may read at now. Row images u cannot see
// are dropped; if neither image is visible the event is not delivered.
func visibleChange(u model.User, ev realtime.Event, now time.Time) (realtime.Event, bool) {
	if u.Role == model.RoleAdmin || ev.Table != realtime.TableAnnouncements {
		return ev, true
	}
	newOK := announcementVisible(ev.New, u.Sector, now)
	oldOK := announcementVisible(ev.Old, u.Sector, now)
	if !newOK && !oldOK {
		return realtime.Event{}, false
	}
	if !newOK {
		ev.New = nil
	}
	if !oldOK {
		ev.Old = nil
	}
	return ev, true
}

func announcementVisible(row any, sector string, now time.Time) bool {
	a, ok := row.(model.Announcement)
	return ok && a.VisibleTo(sector, now)
}
