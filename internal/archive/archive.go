// Package archive implements the MUC history store described in spec §4.9:
// messages are appended as they cross the bridge and replayed on join or
// on an XEP-0313 MAM query, paged by an opaque UUID rather than a numeric
// offset. Grounded on the pgx access style of
// WAN-Ninjas-AmityVox/internal/database/database.go, layered on top of
// this repo's own internal/store pool.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/biboumi-go/biboumi/internal/store"
)

// Row is one archived line, ready for MAM forwarding or join-time replay.
type Row struct {
	UUID string
	Nick string
	Body string
	Date time.Time
}

// Direction controls which end of the matching window Query pages from.
type Direction int

const (
	// First pages forward from the oldest matching row.
	First Direction = iota
	// Last pages backward from the newest matching row, the replay-on-join case.
	Last
)

// Archive is a thin, owner-scoped view over the archive table.
type Archive struct {
	db *store.DB
}

// New wraps db for archive use.
func New(db *store.DB) *Archive {
	return &Archive{db: db}
}

// Store appends one line and returns its paging UUID.
func (a *Archive) Store(ctx context.Context, owner, channel, server, nick, body string, when time.Time) (string, error) {
	id := uuid.NewString()
	_, err := a.db.Pool.Exec(ctx, `INSERT INTO archive (uuid, owner, chan, server, date, nick, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, owner, channel, server, when.Unix(), nick, body)
	if err != nil {
		return "", fmt.Errorf("storing archived line: %w", err)
	}
	return id, nil
}

// Query implements the spec's MAM-style paging: it fetches limit+1 rows so
// the caller can tell whether more history remains (complete=false) without
// a second count query, and reports rows oldest-first regardless of which
// direction it paged from.
//
// start/end bound the search by wall-clock time (zero value means
// unbounded). afterUUID/beforeUUID, when non-empty, anchor the page after
// or before a previously-seen row as identified by its paging UUID.
func (a *Archive) Query(ctx context.Context, owner, channel, server string, limit int, start, end time.Time, afterUUID, beforeUUID string, dir Direction) (rows []Row, complete bool, err error) {
	if limit <= 0 {
		limit = 20
	}

	var anchorID int64
	if afterUUID != "" {
		anchorID, err = a.rowID(ctx, afterUUID)
		if err != nil {
			return nil, false, err
		}
	}
	if beforeUUID != "" {
		anchorID, err = a.rowID(ctx, beforeUUID)
		if err != nil {
			return nil, false, err
		}
	}

	query, args := buildQuery(owner, channel, server, limit+1, start, end, afterUUID, anchorID, beforeUUID, dir)
	dbRows, err := a.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying archive: %w", err)
	}
	defer dbRows.Close()

	for dbRows.Next() {
		var r Row
		var unixDate int64
		if err := dbRows.Scan(&r.UUID, &r.Nick, &r.Body, &unixDate); err != nil {
			return nil, false, fmt.Errorf("scanning archive row: %w", err)
		}
		r.Date = time.Unix(unixDate, 0).UTC()
		rows = append(rows, r)
	}
	if err := dbRows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating archive rows: %w", err)
	}

	complete = len(rows) <= limit
	if !complete {
		rows = rows[:limit]
	}
	if dir == Last {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, complete, nil
}

func (a *Archive) rowID(ctx context.Context, uuidStr string) (int64, error) {
	var id int64
	err := a.db.Pool.QueryRow(ctx, `SELECT id FROM archive WHERE uuid = $1`, uuidStr).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolving archive paging token: %w", err)
	}
	return id, nil
}

func buildQuery(owner, channel, server string, limit int, start, end time.Time, afterUUID string, anchorID int64, beforeUUID string, dir Direction) (string, []any) {
	base := `SELECT uuid, nick, body, date FROM archive WHERE owner = $1 AND chan = $2 AND server = $3`
	args := []any{owner, channel, server}

	if !start.IsZero() {
		args = append(args, start.Unix())
		base += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if !end.IsZero() {
		args = append(args, end.Unix())
		base += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if afterUUID != "" {
		args = append(args, anchorID)
		base += fmt.Sprintf(" AND id > $%d", len(args))
	}
	if beforeUUID != "" {
		args = append(args, anchorID)
		base += fmt.Sprintf(" AND id < $%d", len(args))
	}

	order := "ASC"
	if dir == Last {
		order = "DESC"
	}
	args = append(args, limit)
	base += fmt.Sprintf(" ORDER BY id %s LIMIT $%d", order, len(args))
	return base, args
}
