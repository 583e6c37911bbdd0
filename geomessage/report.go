package geomessage

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Bucknalla/go-geomessage-simulator/gps"
)

// Field names and values of position reports.
const (
	ReportType         = "trackrep"
	ReportAction       = "UPDATE"
	ControlPointsField = "_control_points"
	WKIDField          = "_wkid"
	SICField           = "sic"
	DesignationField   = "uniquedesignation"
	UnitTypeField      = "type"
	DateTimeValidField = "datetimevalid"
	SpeedField         = "speed"
	DirectionField     = "direction"
	Status911Field     = "status911"
	WGS84              = 4326

	// DefaultSIC is the symbol ID code of a friendly ground vehicle.
	DefaultSIC = "SFGPEV---------"
)

// Unit identifies the vehicle whose replayed track is being reported.
type Unit struct {
	ID          string
	Designation string
	Type        string
	SIC         string
}

// NewUnit returns a unit with a fresh random ID. The ID stays the same for
// every report so consumers see one moving vehicle. An empty sic uses
// DefaultSIC.
func NewUnit(designation, unitType, sic string) Unit {
	if sic == "" {
		sic = DefaultSIC
	}
	return Unit{ID: uuid.NewString(), Designation: designation, Type: unitType, SIC: sic}
}

// NewPositionReport builds the trackrep record broadcast for one replayed
// position, stamped with now. Reports are version 1.0, which carries speed
// as a whole number. The direction field is only present when the event carries a
// heading and is rounded to whole degrees.
func NewPositionReport(unit Unit, ev gps.PositionEvent, now time.Time) *Record {
	r := NewRecord()
	r.Set(TypeField, ReportType)
	r.Set(ActionField, ReportAction)
	r.Set(IDField, unit.ID)
	r.Set(ControlPointsField, formatCoord(ev.Location.Lon)+","+formatCoord(ev.Location.Lat))
	r.Set(WKIDField, strconv.Itoa(WGS84))
	r.Set(SICField, unit.SIC)
	r.Set(DesignationField, unit.Designation)
	r.Set(UnitTypeField, unit.Type)
	r.Set(DateTimeValidField, FormatTimestamp(now))
	r.Set(SpeedField, strconv.FormatInt(int64(math.Round(ev.Speed)), 10))
	if ev.HasHeading {
		r.Set(DirectionField, strconv.FormatInt(int64(math.Round(ev.Heading))%360, 10))
	}
	r.Set(Status911Field, "0")
	return r
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
