package gps

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

const metersPerSecondToKnots = 1.94384

// calculateChecksum calculates the NMEA checksum for a sentence
func calculateChecksum(sentence string) string {
	var checksum byte
	for i := 1; i < len(sentence); i++ { // Skip the '$' character
		checksum ^= sentence[i]
	}
	return fmt.Sprintf("%02X", checksum)
}

// formatNMEA formats a complete NMEA sentence with checksum
func formatNMEA(sentence string) string {
	checksum := calculateChecksum(sentence)
	return fmt.Sprintf("%s*%s\r\n", sentence, checksum)
}

// nmeaCoordinates converts a location to NMEA DDMM.MMMM fields
func nmeaCoordinates(loc Location) string {
	latDeg := int(math.Abs(loc.Lat))
	latMin := (math.Abs(loc.Lat) - float64(latDeg)) * 60
	latHem := "N"
	if loc.Lat < 0 {
		latHem = "S"
	}

	lonDeg := int(math.Abs(loc.Lon))
	lonMin := (math.Abs(loc.Lon) - float64(lonDeg)) * 60
	lonHem := "E"
	if loc.Lon < 0 {
		lonHem = "W"
	}

	return fmt.Sprintf("%02d%07.4f,%s,%03d%07.4f,%s", latDeg, latMin, latHem, lonDeg, lonMin, lonHem)
}

// courseField renders the heading, or an empty field when it is undefined
func courseField(ev PositionEvent) string {
	if !ev.HasHeading {
		return ""
	}
	return fmt.Sprintf("%.1f", ev.Heading)
}

// FormatGGA generates a GGA (Global Positioning System Fix Data) sentence
func FormatGGA(ev PositionEvent, timestamp time.Time) string {
	sentence := fmt.Sprintf("$GPGGA,%s,%s,1,08,1.2,0.0,M,0.0,M,,",
		timestamp.UTC().Format("150405"), nmeaCoordinates(ev.Location))
	return formatNMEA(sentence)
}

// FormatRMC generates an RMC (Recommended Minimum) sentence
func FormatRMC(ev PositionEvent, timestamp time.Time) string {
	utc := timestamp.UTC()
	sentence := fmt.Sprintf("$GPRMC,%s,A,%s,%.1f,%s,%s,,,A",
		utc.Format("150405"),
		nmeaCoordinates(ev.Location),
		ev.Speed*metersPerSecondToKnots,
		courseField(ev),
		utc.Format("020106"))
	return formatNMEA(sentence)
}

// FormatVTG generates a VTG (Track Made Good and Ground Speed) sentence
func FormatVTG(ev PositionEvent) string {
	knots := ev.Speed * metersPerSecondToKnots
	// 1 knot = 1.852 km/h
	sentence := fmt.Sprintf("$GPVTG,%s,T,,M,%.1f,N,%.1f,K,A", courseField(ev), knots, knots*1.852)
	return formatNMEA(sentence)
}

// NMEASentences returns the sentences emitted for one position event
func NMEASentences(ev PositionEvent, timestamp time.Time) []string {
	return []string{
		FormatGGA(ev, timestamp),
		FormatRMC(ev, timestamp),
		FormatVTG(ev),
	}
}

// NMEAWriter is a position listener that writes NMEA 0183 sentences to an
// io.Writer such as a serial port. Deliveries may arrive concurrently, so
// each event's sentences are written as one block.
type NMEAWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewNMEAWriter returns an NMEAWriter that writes to w
func NewNMEAWriter(w io.Writer) *NMEAWriter {
	return &NMEAWriter{w: w, now: time.Now}
}

// OnEvent writes the sentences for ev.
func (n *NMEAWriter) OnEvent(ev PositionEvent) error {
	block := strings.Join(NMEASentences(ev, n.now()), "")

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := io.WriteString(n.w, block); err != nil {
		return fmt.Errorf("failed to write NMEA sentences: %w", err)
	}
	return nil
}
