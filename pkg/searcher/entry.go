package searcher

import "time"

// entry is one PV currently awaiting resolution.
type entry struct {
	chanID             uint32
	name               string
	addedAt            time.Time
	lastHit            time.Time
	remainingIntervals []int
	bin                int
}
