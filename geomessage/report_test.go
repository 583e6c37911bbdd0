package geomessage

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Bucknalla/go-geomessage-simulator/gps"
)

func TestNewPositionReport(t *testing.T) {
	unit := NewUnit("Archer 1", "HMMWV", "SFGPUCI--------")
	if _, err := uuid.Parse(unit.ID); err != nil {
		t.Errorf("Expected a UUID unit id, got %q", unit.ID)
	}

	ev := gps.PositionEvent{
		Location:   gps.Location{Lat: 34.057, Lon: -117.197},
		Speed:      4.5,
		Heading:    89.6,
		HasHeading: true,
	}
	now := time.Date(2012, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewPositionReport(unit, ev, now)

	want := []string{
		TypeField, ReportType,
		ActionField, ReportAction,
		IDField, unit.ID,
		ControlPointsField, "-117.197,34.057",
		WKIDField, "4326",
		SICField, "SFGPUCI--------",
		DesignationField, "Archer 1",
		UnitTypeField, "HMMWV",
		DateTimeValidField, "2012-05-01 12:00:00",
		SpeedField, "5",
		DirectionField, "90",
		Status911Field, "0",
	}
	var order []string
	for i := 0; i < len(want); i += 2 {
		name, value := want[i], want[i+1]
		order = append(order, name)
		if got, _ := r.Get(name); got != value {
			t.Errorf("Field %s: expected %q, got %q", name, value, got)
		}
	}
	if !slices.Equal(r.Fields(), order) {
		t.Errorf("Expected field order %v, got %v", order, r.Fields())
	}
	if r.Version != DefaultVersion {
		t.Errorf("Expected version %s, got %s", DefaultVersion, r.Version)
	}

	again := NewPositionReport(unit, ev, now.Add(time.Second))
	if again.ID() != r.ID() {
		t.Error("Expected the same id for every report of a unit")
	}
}

func TestNewPositionReportDirectionRounding(t *testing.T) {
	unit := NewUnit("Archer 1", "HMMWV", "")
	tests := []struct {
		heading float64
		want    string
	}{
		{0, "0"},
		{270.4, "270"},
		{270.5, "271"},
		{359.7, "0"},
	}
	for _, tt := range tests {
		ev := gps.PositionEvent{Heading: tt.heading, HasHeading: true}
		r := NewPositionReport(unit, ev, time.Now())
		if got, _ := r.Get(DirectionField); got != tt.want {
			t.Errorf("Heading %v: expected direction %s, got %s", tt.heading, tt.want, got)
		}
	}
}

func TestNewUnitDefaultSIC(t *testing.T) {
	if u := NewUnit("Archer 1", "HMMWV", ""); u.SIC != DefaultSIC {
		t.Errorf("Expected default SIC %s, got %s", DefaultSIC, u.SIC)
	}
}

func TestNewPositionReportNoHeading(t *testing.T) {
	r := NewPositionReport(NewUnit("Archer 1", "HMMWV", ""), gps.PositionEvent{}, time.Now())
	if slices.Contains(r.Fields(), DirectionField) {
		t.Error("Expected no direction without a heading")
	}
	if v, _ := r.Get(Status911Field); v != "0" {
		t.Errorf("Expected status911 0, got %q", v)
	}
}
