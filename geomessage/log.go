package geomessage

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Log is a parsed event log.
type Log struct {
	Root    string
	Records []*Record
}

// FieldNames returns the distinct field names across all records, in the
// order they are first seen.
func (l *Log) FieldNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range l.Records {
		for _, name := range r.Fields() {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	return names
}

// Len returns the number of records.
func (l *Log) Len() int {
	return len(l.Records)
}

// Parse reads an event log. Every child element of the root is a record
// and every child element of a record is a field whose value is its text
// content. Comments, processing instructions and whitespace between
// records are skipped. A root with no children is a valid, empty log.
func Parse(r io.Reader) (*Log, error) {
	dec := xml.NewDecoder(r)
	log := &Log{}

	var (
		depth   int
		sawRoot bool
		rec     *Record
		field   string
		text    strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEventLog, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if sawRoot {
					return nil, fmt.Errorf("%w: multiple root elements", ErrInvalidEventLog)
				}
				sawRoot = true
				log.Root = t.Name.Local
			case 2:
				rec = NewRecord()
				rec.Name = t.Name.Local
				for _, a := range t.Attr {
					if a.Name.Local == VersionAttr {
						rec.Version = a.Value
					}
				}
			case 3:
				field = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth >= 3 {
				text.Write(t)
			}
		case xml.EndElement:
			switch depth {
			case 3:
				rec.Set(field, text.String())
			case 2:
				log.Records = append(log.Records, rec)
				rec = nil
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: no root element", ErrInvalidEventLog)
	}
	return log, nil
}

// ReadFile reads and parses an event log file.
func ReadFile(filename string) (*Log, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", filename, err)
	}
	defer file.Close()

	log, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event log %s: %w", filename, err)
	}
	return log, nil
}

// Marshal renders records as a UTF-8 geomessages document, the format
// broadcast to consumers.
func Marshal(records ...*Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: RootElement}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	for _, r := range records {
		name := r.Name
		if name == "" {
			name = RecordElement
		}
		version := r.Version
		if version == "" {
			version = DefaultVersion
		}
		start := xml.StartElement{
			Name: xml.Name{Local: name},
			Attr: []xml.Attr{{Name: xml.Name{Local: VersionAttr}, Value: version}},
		}
		if err := enc.EncodeToken(start); err != nil {
			return nil, err
		}
		for _, k := range r.Fields() {
			v, _ := r.Get(k)
			if err := enc.EncodeElement(v, xml.StartElement{Name: xml.Name{Local: k}}); err != nil {
				return nil, fmt.Errorf("failed to encode field %s: %w", k, err)
			}
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
