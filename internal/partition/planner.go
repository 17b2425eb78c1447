// Package partition plans the time-aligned physical slices of the logical
// log table and renders the idempotent DDL that creates them.
package partition

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	// RootTable is the empty table that fixes the logical column set.
	RootTable = "logs_root"
	// ViewName is the logical table that unions every partition.
	ViewName = "logs"

	secondsPerDay = 24 * 60 * 60
)

var nameRegex = regexp.MustCompile(`^logs_\d{8}_\d+d$`)

// columnDefs is the physical column set shared by the root table and every
// partition.
const columnDefs = `
	timestamp    TIMESTAMP NOT NULL,
	service_name VARCHAR NOT NULL DEFAULT '',
	level        VARCHAR NOT NULL CHECK (level IN ('Trace', 'Debug', 'Info', 'Warn', 'Error', 'Fatal')),
	message      VARCHAR NOT NULL DEFAULT '',
	metadata     JSON,
	trace_id     VARCHAR,
	span_id      VARCHAR,
	hostname     VARCHAR,
	environment  VARCHAR,
	pattern_id   BIGINT`

// Columns lists the insertable columns in table order.
var Columns = []string{
	"timestamp", "service_name", "level", "message", "metadata",
	"trace_id", "span_id", "hostname", "environment", "pattern_id",
}

// Planner aligns timestamps to fixed-width windows counted in whole days
// from the Unix epoch.
type Planner struct {
	widthDays int
}

// New creates a planner for windows of widthDays days.
func New(widthDays int) (Planner, error) {
	if widthDays < 1 {
		return Planner{}, fmt.Errorf("partition width must be at least 1 day, got %d", widthDays)
	}
	return Planner{widthDays: widthDays}, nil
}

// WidthDays returns the window width.
func (p Planner) WidthDays() int { return p.widthDays }

// Window returns the partition covering t.
func (p Planner) Window(t time.Time) model.Partition {
	day := floorDiv(t.UTC().Unix(), secondsPerDay)
	w := int64(p.widthDays)
	startDay := floorDiv(day, w) * w
	start := time.Unix(startDay*secondsPerDay, 0).UTC()
	return model.Partition{
		Name:      tableName(start, p.widthDays),
		Start:     start,
		End:       start.AddDate(0, 0, p.widthDays),
		WidthDays: p.widthDays,
	}
}

// Name returns the deterministic table name of the partition covering t.
func (p Planner) Name(t time.Time) string {
	return p.Window(t).Name
}

// Windows returns the distinct partitions covering ts, ordered by start.
func (p Planner) Windows(ts []time.Time) []model.Partition {
	seen := make(map[string]struct{})
	var out []model.Partition
	for _, t := range ts {
		w := p.Window(t)
		if _, ok := seen[w.Name]; ok {
			continue
		}
		seen[w.Name] = struct{}{}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// DDL returns the statements that create part and its timestamp index when
// absent. Running them repeatedly, or concurrently from several writers,
// never fails because a table of the same name already exists.
func DDL(part model.Partition) []string {
	table := QuoteIdent(part.Name)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s,
	CHECK (timestamp >= TIMESTAMP '%s' AND timestamp < TIMESTAMP '%s')
)`, table, columnDefs, part.Start.Format(time.DateTime), part.End.Format(time.DateTime)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (timestamp)`,
			QuoteIdent("idx_"+part.Name+"_timestamp"), table),
	}
}

// RootDDL creates the empty root table that the logical view is built on.
func RootDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s
)`, RootTable, columnDefs)
}

// ViewDDL (re)defines the logical view over the root table and names.
// Names that do not look like partition tables are rejected.
func ViewDDL(names []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", ViewName, RootTable)
	for _, name := range names {
		if !ValidName(name) {
			return "", fmt.Errorf("invalid partition name %q", name)
		}
		fmt.Fprintf(&b, " UNION ALL BY NAME SELECT * FROM %s", QuoteIdent(name))
	}
	return b.String(), nil
}

// ValidName reports whether name has the shape of a partition table name.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

func tableName(start time.Time, widthDays int) string {
	return fmt.Sprintf("logs_%s_%dd", start.Format("20060102"), widthDays)
}

// QuoteIdent quotes s as a SQL identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
