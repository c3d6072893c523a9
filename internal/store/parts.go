package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/rdb/internal/model"
)

// CreatePart adds a catalogue part.
func CreatePart(ctx context.Context, q Querier, partNumber, name string) (*model.Part, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO parts (part_number, name) VALUES (?, ?)`, partNumber, name,
	)
	if err != nil {
		return nil, fmt.Errorf("creating part: %w", err)
	}
	id, err := lastID(result, "part")
	if err != nil {
		return nil, err
	}
	return GetPart(ctx, q, id)
}

// GetPart returns a part by ID.
func GetPart(ctx context.Context, q Querier, id int64) (*model.Part, error) {
	p := &model.Part{}
	err := q.QueryRowContext(ctx,
		`SELECT id, part_number, name FROM parts WHERE id = ?`, id,
	).Scan(&p.ID, &p.PartNumber, &p.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting part: %w", err)
	}
	return p, nil
}

// GetPartByNumber returns a part by its catalogue number.
func GetPartByNumber(ctx context.Context, q Querier, partNumber string) (*model.Part, error) {
	p := &model.Part{}
	err := q.QueryRowContext(ctx,
		`SELECT id, part_number, name FROM parts WHERE part_number = ?`, partNumber,
	).Scan(&p.ID, &p.PartNumber, &p.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting part by number: %w", err)
	}
	return p, nil
}

// ListParts returns all parts ordered by part number.
func ListParts(ctx context.Context, q Querier) ([]model.Part, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, part_number, name FROM parts ORDER BY part_number`)
	if err != nil {
		return nil, fmt.Errorf("listing parts: %w", err)
	}
	defer rows.Close()

	var parts []model.Part
	for rows.Next() {
		var p model.Part
		if err := rows.Scan(&p.ID, &p.PartNumber, &p.Name); err != nil {
			return nil, fmt.Errorf("scanning part: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// CreateAssembly adds an empty assembly template.
func CreateAssembly(ctx context.Context, q Querier, name, number string) (*model.Assembly, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO assemblies (name, assembly_number) VALUES (?, ?)`, name, number,
	)
	if err != nil {
		return nil, fmt.Errorf("creating assembly: %w", err)
	}
	id, err := lastID(result, "assembly")
	if err != nil {
		return nil, err
	}
	return GetAssembly(ctx, q, id)
}

// GetAssembly returns an assembly by ID.
func GetAssembly(ctx context.Context, q Querier, id int64) (*model.Assembly, error) {
	a := &model.Assembly{}
	var number sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, name, assembly_number, created_at FROM assemblies WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &number, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting assembly: %w", err)
	}
	a.AssemblyNumber = number.String
	return a, nil
}

// CreateAssemblyPart adds a slot to an assembly template.
func CreateAssemblyPart(ctx context.Context, q Querier, ap model.AssemblyPart) (*model.AssemblyPart, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO assembly_parts (assembly_id, part_id, parent_id, sort_order, note) VALUES (?, ?, ?, ?, ?)`,
		ap.AssemblyID, ap.PartID, ap.ParentID, ap.SortOrder, ap.Note,
	)
	if err != nil {
		return nil, fmt.Errorf("creating assembly part: %w", err)
	}
	id, err := lastID(result, "assembly part")
	if err != nil {
		return nil, err
	}
	return GetAssemblyPart(ctx, q, id)
}

const assemblyPartColumns = `id, assembly_id, part_id, parent_id, sort_order, note, level`

// GetAssemblyPart returns an assembly slot by ID.
func GetAssemblyPart(ctx context.Context, q Querier, id int64) (*model.AssemblyPart, error) {
	ap := &model.AssemblyPart{}
	var note sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT `+assemblyPartColumns+` FROM assembly_parts WHERE id = ?`, id,
	).Scan(&ap.ID, &ap.AssemblyID, &ap.PartID, &ap.ParentID, &ap.SortOrder, &note, &ap.Level)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting assembly part: %w", err)
	}
	ap.Note = note.String
	return ap, nil
}

// ListAssemblyParts returns an assembly's slots in tree order.
func ListAssemblyParts(ctx context.Context, q Querier, assemblyID int64) ([]model.AssemblyPart, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+assemblyPartColumns+` FROM assembly_parts WHERE assembly_id = ? ORDER BY tree_id, lft, id`,
		assemblyID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing assembly parts: %w", err)
	}
	defer rows.Close()

	var parts []model.AssemblyPart
	for rows.Next() {
		var ap model.AssemblyPart
		var note sql.NullString
		if err := rows.Scan(&ap.ID, &ap.AssemblyID, &ap.PartID, &ap.ParentID, &ap.SortOrder, &note, &ap.Level); err != nil {
			return nil, fmt.Errorf("scanning assembly part: %w", err)
		}
		ap.Note = note.String
		parts = append(parts, ap)
	}
	return parts, rows.Err()
}

// CreateMooringPart adds a slot to a location's mooring template.
func CreateMooringPart(ctx context.Context, q Querier, mp model.MooringPart) (*model.MooringPart, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO mooring_parts (location_id, part_id, parent_id, sort_order) VALUES (?, ?, ?, ?)`,
		mp.LocationID, mp.PartID, mp.ParentID, mp.SortOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("creating mooring part: %w", err)
	}
	id, err := lastID(result, "mooring part")
	if err != nil {
		return nil, err
	}
	return GetMooringPart(ctx, q, id)
}

const mooringPartColumns = `id, location_id, part_id, parent_id, sort_order, level`

// GetMooringPart returns a mooring slot by ID.
func GetMooringPart(ctx context.Context, q Querier, id int64) (*model.MooringPart, error) {
	mp := &model.MooringPart{}
	err := q.QueryRowContext(ctx,
		`SELECT `+mooringPartColumns+` FROM mooring_parts WHERE id = ?`, id,
	).Scan(&mp.ID, &mp.LocationID, &mp.PartID, &mp.ParentID, &mp.SortOrder, &mp.Level)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting mooring part: %w", err)
	}
	return mp, nil
}

// ListMooringParts returns a location's mooring template in tree order.
func ListMooringParts(ctx context.Context, q Querier, locationID int64) ([]model.MooringPart, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+mooringPartColumns+` FROM mooring_parts WHERE location_id = ? ORDER BY tree_id, lft, id`,
		locationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing mooring parts: %w", err)
	}
	defer rows.Close()

	var parts []model.MooringPart
	for rows.Next() {
		var mp model.MooringPart
		if err := rows.Scan(&mp.ID, &mp.LocationID, &mp.PartID, &mp.ParentID, &mp.SortOrder, &mp.Level); err != nil {
			return nil, fmt.Errorf("scanning mooring part: %w", err)
		}
		parts = append(parts, mp)
	}
	return parts, rows.Err()
}

// CreateCruise records a cruise.
func CreateCruise(ctx context.Context, q Querier, number, ship string) (*model.Cruise, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO cruises (cruise_number, ship_name) VALUES (?, ?)`, number, ship,
	)
	if err != nil {
		return nil, fmt.Errorf("creating cruise: %w", err)
	}
	id, err := lastID(result, "cruise")
	if err != nil {
		return nil, err
	}
	return GetCruise(ctx, q, id)
}

// GetCruise returns a cruise by ID.
func GetCruise(ctx context.Context, q Querier, id int64) (*model.Cruise, error) {
	c := &model.Cruise{}
	var ship sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, cruise_number, ship_name FROM cruises WHERE id = ?`, id,
	).Scan(&c.ID, &c.CruiseNumber, &ship)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cruise: %w", err)
	}
	c.ShipName = ship.String
	return c, nil
}
