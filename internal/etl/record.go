package etl

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// Sources emit Records, the transform chain reshapes them in place,
// destinations consume them.

// Field describes a single column in the destination table.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "text" | "json" | "timestamp"
	Required bool   `json:"required"`
}

// Schema describes the shape of records handed to a destination.
type Schema struct {
	Fields     []Field  `json:"fields"`
	PrimaryKey []string `json:"primaryKey"`
}

// IssueSchema is the column set of the issues table.
var IssueSchema = &Schema{
	Fields: []Field{
		{Name: "id", Type: "text", Required: true},
		{Name: "self", Type: "text", Required: true},
		{Name: "key", Type: "text", Required: true},
		{Name: "changelog", Type: "json", Required: true},
		{Name: "fields", Type: "json", Required: true},
		{Name: "updated", Type: "timestamp", Required: true},
		{Name: "created", Type: "timestamp", Required: true},
		{Name: "customer_id", Type: "text"},
		{Name: "partition_date", Type: "text", Required: true},
	},
	PrimaryKey: []string{"id", "partition_date"},
}

// Record is a single issue flowing through the pipeline.
type Record struct {
	Data map[string]any `json:"data"`
}

// NewRecord wraps a decoded JSON object.
func NewRecord(data map[string]any) Record {
	if data == nil {
		data = make(map[string]any)
	}
	return Record{Data: data}
}

// Key returns the record's business key for error reporting.
// Falls back to the id when the key is missing.
func (r Record) Key() string {
	if k, ok := r.Data["key"].(string); ok && k != "" {
		return k
	}
	if id, ok := r.Data["id"].(string); ok {
		return id
	}
	return ""
}
