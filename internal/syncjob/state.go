// Package syncjob tracks asynchronous sync work as a state machine.
package syncjob

import "github.com/nikhilbhutani/paysync/internal/models"

// MaxErrorMessage bounds the stored failure message, in runes.
const MaxErrorMessage = 1000

// pending -> running -> completed | failed, and failed -> pending while the
// retry budget lasts. The tracker applies running -> failed -> pending as a
// single write, so a stored failed job is always terminal.
var transitions = map[models.SyncStatus][]models.SyncStatus{
	models.SyncPending: {models.SyncRunning},
	models.SyncRunning: {models.SyncCompleted, models.SyncFailed},
	models.SyncFailed:  {models.SyncPending},
}

func CanTransition(from, to models.SyncStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s models.SyncStatus) bool {
	return s == models.SyncCompleted || s == models.SyncFailed
}

func truncate(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorMessage {
		return msg
	}
	return string(r[:MaxErrorMessage])
}
