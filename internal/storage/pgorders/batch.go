package pgorders

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/models"
)

// Колонки, которыми владеет оператор: синк их не перетирает.
var operatorColumns = map[string]map[string]bool{
	TablePendingOrders: {
		"status":         true,
		"is_received":    true,
		"received_at":    true,
		"received_by":    true,
		"received_notes": true,
	},
}

// Колонки, где NULL из синка не затирает уже найденное значение.
var keepColumns = map[string]map[string]bool{
	TablePendingOrders: {
		"original_order_id": true,
	},
}

// SaveBatch upserts records by tracking_number and replaces their timeline
// rows, all in one transaction. Only columns present in the live table are
// written. On any failure nothing is committed and the count is zero.
func (s *Storage) SaveBatch(ctx context.Context, table string, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if table != TableOrders && table != TablePendingOrders {
		return 0, &PersistenceError{Table: table, Err: errors.New("unknown table")}
	}

	n, err := s.saveBatch(ctx, table, records)
	if err != nil {
		return 0, &PersistenceError{Table: table, Err: err}
	}
	return n, nil
}

func (s *Storage) saveBatch(ctx context.Context, table string, records []models.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	live, err := tableColumns(ctx, tx, table)
	if err != nil {
		return 0, err
	}
	if len(live) == 0 {
		return 0, errors.Errorf("table %s not found", table)
	}

	if err := lockKeys(ctx, tx, records); err != nil {
		return 0, err
	}

	b := &pgx.Batch{}
	var withTimeline []string
	timeline := make(map[string][]models.TimelineEvent)
	for _, r := range records {
		q, args := upsertQuery(table, r.Columns(), live)
		b.Queue(q, args...)
		if ev := r.Events(); len(ev) > 0 {
			if _, seen := timeline[r.Key()]; !seen {
				withTimeline = append(withTimeline, r.Key())
			}
			// last copy of a duplicated record wins
			timeline[r.Key()] = ev
		}
	}

	br := tx.SendBatch(ctx, b)
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, errors.Wrapf(err, "upsert %s", r.Key())
		}
	}
	if err := br.Close(); err != nil {
		return 0, errors.Wrap(err, "close batch")
	}

	if len(withTimeline) > 0 {
		var events []models.TimelineEvent
		for _, tn := range withTimeline {
			events = append(events, timeline[tn]...)
		}
		if err := replaceTimeline(ctx, tx, withTimeline, events); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return len(records), nil
}

func tableColumns(ctx context.Context, tx pgx.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
`, table)
	if err != nil {
		return nil, errors.Wrap(err, "select columns")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan columns")
	}

	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// lockKeys takes a transaction-scoped advisory lock per tracking number, in
// sorted order. Both tracks and the phone sync write the same tracking numbers
// (shared timeline rows, overlapping orders), so writers of one key are
// serialised and a concurrent delete+copy of its timeline cannot interleave.
func lockKeys(ctx context.Context, tx pgx.Tx, records []models.Record) error {
	seen := make(map[string]bool, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		if !seen[r.Key()] {
			seen[r.Key()] = true
			keys = append(keys, r.Key())
		}
	}
	sort.Strings(keys)

	b := &pgx.Batch{}
	for _, k := range keys {
		b.Queue(`SELECT pg_advisory_xact_lock(hashtext('bosta.order:' || $1))`, k)
	}
	br := tx.SendBatch(ctx, b)
	for _, k := range keys {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "lock %s", k)
		}
	}
	return errors.Wrap(br.Close(), "close lock batch")
}

// upsertQuery builds INSERT ... ON CONFLICT (tracking_number) DO UPDATE over
// the intersection of the record's columns and the live ones.
func upsertQuery(table string, cols map[string]any, live map[string]bool) (string, []any) {
	names := make([]string, 0, len(cols))
	for c := range cols {
		if live[c] {
			names = append(names, c)
		}
	}
	sort.Strings(names)

	var (
		quoted       = make([]string, len(names))
		placeholders = make([]string, len(names))
		sets         []string
		args         = make([]any, len(names))
	)
	for i, c := range names {
		q := pgx.Identifier{c}.Sanitize()
		quoted[i] = q
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = cols[c]
		switch {
		case c == "tracking_number" || operatorColumns[table][c]:
			continue
		case keepColumns[table][c]:
			sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", q, q, pgx.Identifier{table}.Sanitize(), q))
		default:
			sets = append(sets, q+" = EXCLUDED."+q)
		}
	}

	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (tracking_number) %s",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		conflict,
	)
	return q, args
}

func replaceTimeline(ctx context.Context, tx pgx.Tx, trackingNumbers []string, events []models.TimelineEvent) error {
	if _, err := tx.Exec(ctx, `DELETE FROM timeline_events WHERE tracking_number = ANY($1)`, trackingNumbers); err != nil {
		return errors.Wrap(err, "delete timeline")
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{TableTimeline},
		[]string{"order_id", "tracking_number", "event_code", "event_value", "event_date", "is_done", "description", "sequence_order"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.OrderID, e.TrackingNumber, e.Code, e.Value, e.Date, e.IsDone, e.Description, e.SequenceOrder}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "insert timeline")
	}
	return nil
}
