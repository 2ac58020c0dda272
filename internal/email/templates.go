package email

import "fmt"

// ReminderReady is the email delivered once a requested backup is complete.
func ReminderReady(to, username, shareURL string, expiresHours int) Message {
	text := fmt.Sprintf(
		"Your backup of @%s is ready.\n\nDownload it here:\n\n%s\n\nThis link expires in %d hour(s).",
		username, shareURL, expiresHours,
	)
	html := fmt.Sprintf(
		`<p>Your backup of <strong>@%s</strong> is ready.</p><p><a href="%s">Download your backup</a></p><p>This link expires in %d hour(s).</p>`,
		username, shareURL, expiresHours,
	)
	return Message{
		To:       to,
		Subject:  fmt.Sprintf("Your @%s backup is ready", username),
		TextBody: text,
		HTMLBody: html,
	}
}

// AdminReminderRequested notifies the operator that a user asked to be
// emailed when their backup finishes.
func AdminReminderRequested(adminTo, userID, jobID, reminderEmail string) Message {
	text := fmt.Sprintf(
		"A backup reminder was requested.\n\nUser: %s\nJob: %s\nReminder email: %s",
		userID, jobID, reminderEmail,
	)
	return Message{
		To:       adminTo,
		Subject:  "Backup reminder requested",
		TextBody: text,
		HTMLBody: fmt.Sprintf("<p>A backup reminder was requested.</p><p>User: %s<br>Job: %s<br>Reminder email: %s</p>", userID, jobID, reminderEmail),
	}
}
