// Package photos reads the scene classifications of a device photo library
// (Photos.sqlite) into catalog records.
package photos

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/sqlitero"
)

// macEpoch is the zero of Mac absolute time.
var macEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

const sceneQuery = `
SELECT
	ZSCENECLASSIFICATION.ZSCENEIDENTIFIER,
	ZSCENECLASSIFICATION.ZCONFIDENCE,
	ZASSET.ZDIRECTORY,
	ZASSET.ZFILENAME,
	ZASSET.ZDATECREATED,
	ZASSET.ZADDEDDATE
FROM ZASSET
INNER JOIN ZADDITIONALASSETATTRIBUTES ON ZADDITIONALASSETATTRIBUTES.ZASSET = ZASSET.Z_PK
INNER JOIN ZSCENECLASSIFICATION ON ZSCENECLASSIFICATION.ZASSETATTRIBUTES = ZADDITIONALASSETATTRIBUTES.Z_PK
ORDER BY ZASSET.Z_PK, ZSCENECLASSIFICATION.Z_PK`

// Query returns one record per (asset, scene classification) pair of the
// library at dbPath. The database is opened read-only.
func Query(ctx context.Context, dbPath string) ([]models.CatalogRecord, error) {
	db, err := sqlitero.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("photos: open: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, sceneQuery)
	if err != nil {
		return nil, fmt.Errorf("photos: query: %w", err)
	}
	defer rows.Close()

	out := []models.CatalogRecord{}
	for rows.Next() {
		var (
			scene            int64
			confidence       sql.NullFloat64
			dir, name        sql.NullString
			created, addedAt sql.NullFloat64
		)
		if err := rows.Scan(&scene, &confidence, &dir, &name, &created, &addedAt); err != nil {
			return nil, fmt.Errorf("photos: scan: %w", err)
		}
		out = append(out, models.CatalogRecord{
			Path:                dir.String,
			Filename:            name.String,
			SceneClassification: Label(scene),
			Confidence:          Percent(confidence.Float64),
			DateCreated:         MacTime(created),
			DateAdded:           MacTime(addedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("photos: rows: %w", err)
	}
	return out, nil
}

// Percent converts a classifier confidence in [0,1] to a whole percentage,
// rounding halves to even.
func Percent(c float64) int {
	return int(math.RoundToEven(c * 100))
}

// MacTime converts seconds since 2001-01-01 UTC. NULL maps to the zero time.
func MacTime(v sql.NullFloat64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	sec, frac := math.Modf(v.Float64)
	return macEpoch.Add(time.Duration(sec)*time.Second + time.Duration(frac*float64(time.Second))).UTC()
}
