package registry

// View is a read-only window over a registry's live records.
type View struct {
	records []Record
}

// ViewOf wraps records in a View. The slice is not copied.
func ViewOf(records []Record) View {
	return View{records: records}
}

// Len returns the number of records in the view.
func (v View) Len() int { return len(v.records) }

// At returns the i'th record. It panics if i is out of range.
func (v View) At(i int) Record { return v.records[i] }

// Records returns a copy of the records that outlives the registry.
func (v View) Records() []Record {
	out := make([]Record, len(v.records))
	copy(out, v.records)
	return out
}

// Bytes returns the total size of the records.
func (v View) Bytes() uint64 {
	var total uint64
	for _, rec := range v.records {
		total += rec.Size
	}
	return total
}
