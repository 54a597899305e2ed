package railfeed

import "time"

// BerthState is the train description last seen occupying a berth.
type BerthState struct {
	AreaID      string    `json:"area_id" firestore:"area_id"`
	Berth       string    `json:"berth" firestore:"berth"`
	Description string    `json:"description" firestore:"description"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updated_at"`
}

// BerthChange is one update to the berth map. Clear removes the key; otherwise
// State is written under Key.
type BerthChange struct {
	Key   string
	Clear bool
	State BerthState
}

// BerthKey is the berth map key for a berth within an area.
func BerthKey(areaID, berth string) string {
	return "berth:" + areaID + ":" + berth
}

// BerthChanges derives berth map updates from a record: a step vacates the
// from berth and occupies the to berth, a cancel vacates the from berth, an
// interpose occupies the to berth. Empty berth ids are ignored.
func BerthChanges(rec NormalizedRecord) []BerthChange {
	var changes []BerthChange
	clearFrom := func() {
		if rec.FromBerth != "" {
			changes = append(changes, BerthChange{Key: BerthKey(rec.AreaID, rec.FromBerth), Clear: true})
		}
	}
	occupyTo := func() {
		if rec.ToBerth != "" {
			changes = append(changes, BerthChange{
				Key: BerthKey(rec.AreaID, rec.ToBerth),
				State: BerthState{
					AreaID:      rec.AreaID,
					Berth:       rec.ToBerth,
					Description: rec.Description,
					UpdatedAt:   rec.LocalTimestamp,
				},
			})
		}
	}

	switch rec.MessageType {
	case BerthStep:
		clearFrom()
		occupyTo()
	case BerthCancel:
		clearFrom()
	case BerthInterpose:
		occupyTo()
	}
	return changes
}
