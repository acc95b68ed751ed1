package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"countyscrape/internal/model"
	"countyscrape/internal/scrapeutil"
)

// UpsertProperties writes records keyed on property_id in chunks of
// chunkSize, each chunk one atomic statement. It returns one bool per
// input record, true iff that record created a new row. The flag comes
// from the statement itself (xmax = 0 on the returned row); a separate
// existence precheck would race with concurrent workers.
func (s *Store) UpsertProperties(ctx context.Context, records []model.PropertyRecord, searchTerm string, chunkSize int) ([]bool, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if chunkSize <= 0 {
		chunkSize = 50
	}

	// The upstream occasionally repeats a property within one response.
	// A key may only be touched once per statement, so keep the last
	// occurrence and resolve flags back to input positions afterwards.
	unique := make([]model.PropertyRecord, 0, len(records))
	lastIdx := make(map[string]int, len(records))
	for _, rec := range records {
		if i, ok := lastIdx[rec.PropertyID]; ok {
			unique[i] = rec
			continue
		}
		lastIdx[rec.PropertyID] = len(unique)
		unique = append(unique, rec)
	}

	insertedByID := make(map[string]bool, len(unique))
	for _, chunk := range scrapeutil.ChunkRecords(unique, chunkSize) {
		if err := s.upsertChunk(ctx, chunk, searchTerm, insertedByID); err != nil {
			return nil, err
		}
	}

	flags := make([]bool, len(records))
	claimed := make(map[string]bool, len(unique))
	for i, rec := range records {
		if claimed[rec.PropertyID] {
			continue
		}
		claimed[rec.PropertyID] = true
		flags[i] = insertedByID[rec.PropertyID]
	}
	return flags, nil
}

func (s *Store) upsertChunk(ctx context.Context, chunk []model.PropertyRecord, searchTerm string, insertedByID map[string]bool) error {
	now := time.Now().UTC()

	var b strings.Builder
	b.WriteString(`INSERT INTO properties (
		property_id, owner_name, property_type, city, street_address,
		assessed_value, appraised_value, geo_id, legal_description,
		search_term, scraped_at, created_at, updated_at
	) VALUES `)

	args := make([]any, 0, len(chunk)*11+2)
	args = append(args, searchTerm, now)
	for i, rec := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $1, $2, $2, $2)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			rec.PropertyID,
			rec.OwnerName,
			rec.PropertyType,
			rec.City,
			rec.StreetAddress,
			nullFloat(rec.AssessedValue),
			rec.AppraisedValue,
			nullString(rec.GeoID),
			nullString(rec.LegalDescription),
		)
	}

	b.WriteString(` ON CONFLICT (property_id) DO UPDATE SET
		owner_name = EXCLUDED.owner_name,
		property_type = EXCLUDED.property_type,
		city = EXCLUDED.city,
		street_address = EXCLUDED.street_address,
		assessed_value = EXCLUDED.assessed_value,
		appraised_value = EXCLUDED.appraised_value,
		geo_id = EXCLUDED.geo_id,
		legal_description = EXCLUDED.legal_description,
		search_term = EXCLUDED.search_term,
		scraped_at = EXCLUDED.scraped_at,
		updated_at = EXCLUDED.updated_at
	RETURNING property_id, (xmax = 0) AS inserted`)

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("upsert properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var inserted bool
		if err := rows.Scan(&id, &inserted); err != nil {
			return fmt.Errorf("scan upsert row: %w", err)
		}
		insertedByID[id] = inserted
	}
	return rows.Err()
}

// CountProperties returns the total number of stored properties.
func (s *Store) CountProperties(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`).Scan(&n)
	return n, err
}

// GetPropertyByID fetches one property by its upstream identifier.
func (s *Store) GetPropertyByID(ctx context.Context, propertyID string) (model.Property, error) {
	var (
		p        model.Property
		assessed sql.NullFloat64
		geoID    sql.NullString
		legal    sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, property_id, owner_name, property_type, city, street_address,
		       assessed_value, appraised_value, geo_id, legal_description,
		       search_term, scraped_at, created_at, updated_at
		FROM properties WHERE property_id = $1`, propertyID).Scan(
		&p.ID, &p.PropertyID, &p.OwnerName, &p.PropertyType, &p.City, &p.StreetAddress,
		&assessed, &p.AppraisedValue, &geoID, &legal,
		&p.SearchTerm, &p.ScrapedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Property{}, err
	}
	p.AssessedValue = floatPtr(assessed)
	p.GeoID = stringPtr(geoID)
	p.LegalDescription = stringPtr(legal)
	return p, nil
}
