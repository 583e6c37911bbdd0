package gps

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// gpxDocument is the subset of a GPX 1.0/1.1 document read during replay.
// Coordinates and times are kept as strings so that one malformed waypoint
// does not fail the whole document.
type gpxDocument struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
	Routes  []gpxRoute `xml:"rte"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxRoute struct {
	Name   string     `xml:"name"`
	Points []gpxPoint `xml:"rtept"`
}

type gpxPoint struct {
	Lat       string `xml:"lat,attr"`
	Lon       string `xml:"lon,attr"`
	Elevation string `xml:"ele"`
	Time      string `xml:"time"`
	Speed     string `xml:"speed"`
}

// timeLayouts are tried in order when parsing waypoint times.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (p gpxPoint) trackPoint() (TrackPoint, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	if err != nil || lat < -90 || lat > 90 {
		return TrackPoint{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if err != nil || lon < -180 || lon > 180 {
		return TrackPoint{}, false
	}
	t, err := parseTime(p.Time)
	if err != nil {
		return TrackPoint{}, false
	}

	tp := TrackPoint{Location: Location{Lat: lat, Lon: lon}, Time: t}
	// Speed and elevation are optional; bad values read as zero.
	if v, err := strconv.ParseFloat(strings.TrimSpace(p.Speed), 64); err == nil && v >= 0 {
		tp.Speed = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(p.Elevation), 64); err == nil {
		tp.Elevation = v
	}
	return tp, true
}

// ReadTrackPoints parses a GPX document and returns its usable waypoints in
// document order. Track points from every track segment are used; route
// points are used only if the document has no track points. Waypoints
// with unparsable coordinates or times are dropped.
func ReadTrackPoints(r io.Reader) ([]TrackPoint, error) {
	var doc gpxDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrackLog, err)
	}

	var raw []gpxPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			raw = append(raw, seg.Points...)
		}
	}
	if len(raw) == 0 {
		for _, rte := range doc.Routes {
			raw = append(raw, rte.Points...)
		}
	}

	points := make([]TrackPoint, 0, len(raw))
	for _, p := range raw {
		if tp, ok := p.trackPoint(); ok {
			points = append(points, tp)
		}
	}
	return points, nil
}

// ReadTrack parses a GPX document into a Track ready for replay.
func ReadTrack(r io.Reader) (*Track, error) {
	points, err := ReadTrackPoints(r)
	if err != nil {
		return nil, err
	}
	return NewTrack(points), nil
}

// ReadTrackFile reads and parses a GPX file into a Track.
func ReadTrackFile(filename string) (*Track, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPX file %s: %w", filename, err)
	}
	defer file.Close()

	track, err := ReadTrack(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GPX file %s: %w", filename, err)
	}
	return track, nil
}
