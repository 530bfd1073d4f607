package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

// Info summarises a store for the /databases endpoint.
type Info struct {
	// Alias is filled in by the caller; a store does not know its device.
	Alias      string
	Name       string
	Fields     []string
	Size       int64
	MinDate    time.Time
	MaxDate    time.Time
	NumRecords int64
}

func (i Info) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"alias":       i.Alias,
		"name":        i.Name,
		"fields":      i.Fields,
		"file_size":   utils.HumanFileSize(i.Size),
		"min_date":    nullableTime(i.MinDate),
		"max_date":    nullableTime(i.MaxDate),
		"num_records": i.NumRecords,
	})
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return utils.FormatISO(t)
}

func (s *Store) Info(ctx context.Context) (Info, error) {
	st, err := os.Stat(s.path)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Name:   s.Name(),
		Fields: append([]string{"pid", "timestamp"}, s.fields...),
		Size:   st.Size(),
	}

	var minDate, maxDate sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp), COUNT(timestamp) FROM data`).
		Scan(&minDate, &maxDate, &info.NumRecords)
	if err != nil {
		return Info{}, fmt.Errorf("info %s: %w", s.Name(), err)
	}
	if minDate.Valid {
		if info.MinDate, err = utils.ParseStored(minDate.String); err != nil {
			return Info{}, err
		}
	}
	if maxDate.Valid {
		if info.MaxDate, err = utils.ParseStored(maxDate.String); err != nil {
			return Info{}, err
		}
	}
	return info, nil
}
