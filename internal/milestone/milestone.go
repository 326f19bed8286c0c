// Package milestone watches the points ledger and turns point changes into
// celebration events.
package milestone

import (
	"time"
)

// Event is a detected milestone crossing. Events are process-local: they
// feed the popup queue and the bounded activity history but are never
// persisted to the backing store.
type Event struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Points     int       `json:"points"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"createdAt"`
}

// actions maps each default milestone to its forfeit.
var actions = map[int]string{
	1:  "Buys the next round",
	3:  "Wears the party hat for an hour",
	5:  "Does the washing up",
	7:  "Sings a karaoke song of the group's choice",
	10: "Downs a drink of the group's choice",
	12: "Swaps shirts with the player on their left",
	15: "Gives a toast to the group",
	17: "Speaks in an accent until the next milestone",
	20: "Plans the next night out",
	25: "Cooks dinner for everyone",
	30: "Crowned platform champion, buys shots for the table",
}

// fallbackAction is returned for milestone values without a dedicated
// forfeit, keeping the lookup total.
const fallbackAction = "Milestone reached!"

// Action returns the forfeit for a milestone value. It is defined for every
// integer.
func Action(points int) string {
	if a, ok := actions[points]; ok {
		return a
	}
	return fallbackAction
}
