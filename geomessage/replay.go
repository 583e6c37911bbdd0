package geomessage

// Replay is a cyclic cursor over the records of a Log. It is not safe for
// concurrent use; the replay scheduler owns it.
type Replay struct {
	records []*Record
	cursor  int
}

// NewReplay returns a Replay positioned at the first record of log.
func NewReplay(log *Log) *Replay {
	var records []*Record
	if log != nil {
		records = log.Records
	}
	return &Replay{records: records}
}

// Len returns the number of records.
func (r *Replay) Len() int {
	return len(r.records)
}

// Cursor returns the index of the record Next will return.
func (r *Replay) Cursor() int {
	return r.cursor
}

// Next returns the record at the cursor and advances, wrapping to the
// first record after the last.
func (r *Replay) Next() (*Record, error) {
	if len(r.records) == 0 {
		return nil, ErrEmptySource
	}
	rec := r.records[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.records)
	return rec, nil
}

// Rewind moves the cursor back to the first record.
func (r *Replay) Rewind() {
	r.cursor = 0
}
