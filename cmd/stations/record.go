package stations

import (
	"strings"
	"time"
)

// Radio is the cell technology as stored in the station tables
type Radio int16

// Stored radio values
const (
	RadioGSM   Radio = 0
	RadioCDMA  Radio = 1
	RadioWCDMA Radio = 2
	RadioLTE   Radio = 3
)

// radioNames are the suffixes of the sharded station tables
var radioNames = map[Radio]string{
	RadioGSM:   "gsm",
	RadioCDMA:  "cdma",
	RadioWCDMA: "wcdma",
	RadioLTE:   "lte",
}

// String returns the internal name of the radio (e.g. "wcdma")
func (r Radio) String() string {
	if name, ok := radioNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRadio maps an internal radio name back to its value
func ParseRadio(name string) (Radio, bool) {
	for radio, n := range radioNames {
		if n == name {
			return radio, true
		}
	}
	return 0, false
}

// tablePrefix precedes the radio name in every station table
const tablePrefix = "cell_"

// TableName returns the station table holding the given radio (e.g. "cell_lte")
func TableName(r Radio) string {
	return tablePrefix + r.String()
}

// TableRadio returns the radio a station table is sharded on
func TableRadio(table string) (Radio, bool) {
	name, ok := strings.CutPrefix(table, tablePrefix)
	if !ok {
		return 0, false
	}
	return ParseRadio(name)
}

// Record is one station (cell sector) as read from the store.
// Pointer fields are nullable columns.
type Record struct {
	Radio         Radio
	MCC           int32
	MNC           int32
	LAC           int32
	CellID        int64
	PSC           *int32
	Lat           *float64
	Lon           *float64
	Range         *int32
	Samples       *int64
	Changeable    bool
	AverageSignal *int32
	Created       time.Time
	Modified      time.Time
	LastSeen      *time.Time
}

// Exportable reports whether the record has a complete position.
// Age is never taken into account.
func (r *Record) Exportable() bool {
	return r.Lat != nil && r.Lon != nil
}

// Window restricts a stream to records modified in [Start, End).
// The zero Window matches every record.
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the window applies no time filter
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}
