package directory

import (
	"time"

	"github.com/pvmapper/pvmapper/pkg/codec"
	"github.com/pvmapper/pvmapper/pkg/iocguard"
)

// pvRecord is a resolved PV and the guard watching the IOC that
// answered it.
type pvRecord struct {
	name    string
	ioc     *iocguard.Guard
	reply   codec.ReplyFrame
	lastHit time.Time
}
