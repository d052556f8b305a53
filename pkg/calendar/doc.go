// Package calendar stores firm events and reminders and enforces their
// privacy rule, which runs independently of role policies.
//
// Personal entries are visible only to their creator, and only while the
// creator holds the own-management key (calendar.view_personal for events,
// reminders.manage_own for reminders). Firm admins cannot see them.
//
// Firm entries are visible to firm-wide view or manage key holders and to
// the users in assigned_to, which is either a list of user ids or "all".
// Assignees without the manage key may only change status.
package calendar
