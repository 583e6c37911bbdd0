package gps

import (
	"encoding/xml"
	"fmt"
	"os"
	"sync"
	"time"
)

type recordedGPX struct {
	XMLName xml.Name      `xml:"gpx"`
	Version string        `xml:"version,attr"`
	Creator string        `xml:"creator,attr"`
	Xmlns   string        `xml:"xmlns,attr"`
	Track   recordedTrack `xml:"trk"`
}

type recordedTrack struct {
	Name   string          `xml:"name"`
	Points []recordedPoint `xml:"trkseg>trkpt"`
}

type recordedPoint struct {
	Lat   float64   `xml:"lat,attr"`
	Lon   float64   `xml:"lon,attr"`
	Time  time.Time `xml:"time"`
	Speed float64   `xml:"speed"`
}

// GPXRecorder is a position listener that records every replayed position
// to a GPX file. The file is rewritten every flushEvery points and on Close.
type GPXRecorder struct {
	mu         sync.Mutex
	filename   string
	file       *os.File
	gpx        *recordedGPX
	flushEvery int
	now        func() time.Time
}

// NewGPXRecorder creates the GPX file and returns a recorder writing to it
func NewGPXRecorder(filename string) (*GPXRecorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create GPX file %s: %w", filename, err)
	}

	return &GPXRecorder{
		filename: filename,
		file:     file,
		gpx: &recordedGPX{
			Version: "1.1",
			Creator: "go-geomessage-simulator",
			Xmlns:   "http://www.topografix.com/GPX/1/1",
			Track:   recordedTrack{Name: "Replayed Track"},
		},
		flushEvery: 10,
		now:        time.Now,
	}, nil
}

// OnEvent appends the position, stamped with the replay time.
func (r *GPXRecorder) OnEvent(ev PositionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return fmt.Errorf("GPX recorder %s is closed", r.filename)
	}
	r.gpx.Track.Points = append(r.gpx.Track.Points, recordedPoint{
		Lat:   ev.Location.Lat,
		Lon:   ev.Location.Lon,
		Time:  r.now().UTC(),
		Speed: ev.Speed,
	})

	if len(r.gpx.Track.Points)%r.flushEvery == 0 {
		return r.writeLocked()
	}
	return nil
}

// Len returns the number of recorded points
func (r *GPXRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gpx.Track.Points)
}

func (r *GPXRecorder) writeLocked() error {
	if _, err := r.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to beginning of file: %w", err)
	}
	if err := r.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if _, err := r.file.WriteString(xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}

	encoder := xml.NewEncoder(r.file)
	encoder.Indent("", "  ")
	if err := encoder.Encode(r.gpx); err != nil {
		return fmt.Errorf("failed to encode GPX data: %w", err)
	}
	return r.file.Sync()
}

// Close writes the final track and closes the file
func (r *GPXRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.writeLocked()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.file = nil
	return err
}
