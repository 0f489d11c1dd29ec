// Package permissions names the permission nodes the moderation core checks on sessions.
package permissions

import "github.com/Inpuzah/stafftools/internal/session"

const NodeStaffNotify = "stafftools.staff.notify"

// ReceivesStaffNotifications reports whether s should see issuance and join alerts.
func ReceivesStaffNotifications(s *session.Session) bool {
	if s == nil {
		return false
	}
	return s.HasPermission(NodeStaffNotify)
}

const NodeAppealNotify = "stafftools.appeal.notify"

func ReceivesAppealNotifications(s *session.Session) bool {
	if s == nil {
		return false
	}
	return s.HasPermission(NodeAppealNotify)
}
