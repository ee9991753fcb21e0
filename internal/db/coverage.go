package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/service"
)

const schema = `
CREATE TABLE IF NOT EXISTS population_cells (
	seq     UBIGINT NOT NULL,
	lon     DOUBLE  NOT NULL,
	lat     DOUBLE  NOT NULL,
	people  DOUBLE  NOT NULL,
	covered VARCHAR NOT NULL
)`

// Unknown labels cells without a covered property.
const Unknown = "Unknown"

// Bucket aggregates population cells sharing a coverage status.
type Bucket struct {
	Covered string  `json:"covered" doc:"Coverage status" example:"Covered"`
	Cells   int     `json:"cells" doc:"Number of population cells"`
	People  float64 `json:"people" doc:"Total population"`
}

// Summary is the coverage breakdown of the most recent population snapshot.
type Summary struct {
	Seq     uint64   `json:"seq" doc:"Sequence number of the snapshot"`
	Buckets []Bucket `json:"buckets" doc:"Population per coverage status"`
	People  float64  `json:"people" doc:"Total population"`
	Ratio   float64  `json:"ratio" doc:"Share of the population that is covered (0-1)"`
}

// CoverageStore keeps the latest applied population layer in DuckDB so it
// can be summarised. It implements service.Recorder.
type CoverageStore struct {
	db *sql.DB

	mu  sync.Mutex
	seq uint64
}

// NewCoverageStore creates the schema on db.
func NewCoverageStore(ctx context.Context, db *sql.DB) (*CoverageStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating coverage schema: %w", err)
	}
	return &CoverageStore{db: db}, nil
}

// Record replaces the stored snapshot with fc. Snapshots older than the
// stored one are ignored.
func (s *CoverageStore) Record(ctx context.Context, seq uint64, fc *geojson.FeatureCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.seq {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM population_cells"); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	if fc != nil {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO population_cells VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range fc.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			c := service.Location(f.Geometry)
			covered := f.Properties.MustString(service.CoveredProp, Unknown)
			people := f.Properties.MustFloat64(service.PopulationProp, 0)
			if _, err := stmt.ExecContext(ctx, seq, c.Lon(), c.Lat(), people, covered); err != nil {
				return fmt.Errorf("inserting cell: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.seq = seq
	return nil
}

// Summary aggregates the stored snapshot by coverage status.
func (s *CoverageStore) Summary(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT covered, COUNT(*), COALESCE(SUM(people), 0)
		FROM population_cells
		GROUP BY covered
		ORDER BY covered`)
	if err != nil {
		return nil, fmt.Errorf("summarising coverage: %w", err)
	}
	defer rows.Close()

	sum := &Summary{Seq: seq, Buckets: []Bucket{}}
	var covered float64
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Covered, &b.Cells, &b.People); err != nil {
			return nil, err
		}
		sum.Buckets = append(sum.Buckets, b)
		sum.People += b.People
		if b.Covered == service.Covered {
			covered += b.People
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if sum.People > 0 {
		sum.Ratio = covered / sum.People
	}
	return sum, nil
}
