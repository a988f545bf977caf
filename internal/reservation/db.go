package reservation

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema.sql
var schemaSQL string

// Booking is one row of the reservations table.
type Booking struct {
	Code    string
	Guest   string
	Kind    string
	Room    int
	CheckIn string
	Nights  int
	Status  string
}

// RoomType is one row of the room_types table.
type RoomType struct {
	Kind      string
	RateCents int
	Capacity  int
	Rooms     int
}

// DB is the hotel database the reservation assistants query.
type DB struct {
	sqlDB *sql.DB
}

// OpenDB opens the hotel database at path and applies the embedded schema
// and sample data. Use ":memory:" for a throwaway database.
func OpenDB(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to ":memory:" is a distinct database.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{sqlDB: sqlDB}, nil
}

// Close closes the database handle.
func (d *DB) Close() error {
	if d == nil || d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

// FindBookings returns reservations whose guest name or code appears in text.
func (d *DB) FindBookings(ctx context.Context, text string) ([]Booking, error) {
	rows, err := d.sqlDB.QueryContext(ctx,
		`SELECT code, guest, kind, room, check_in, nights, status
		   FROM reservations
		  WHERE instr(lower(?1), lower(guest)) > 0
		     OR instr(upper(?1), code) > 0
		  ORDER BY check_in, code`,
		text,
	)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.Code, &b.Guest, &b.Kind, &b.Room, &b.CheckIn, &b.Nights, &b.Status); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FindRoomTypes returns the room types named in text.
func (d *DB) FindRoomTypes(ctx context.Context, text string) ([]RoomType, error) {
	rows, err := d.sqlDB.QueryContext(ctx,
		`SELECT kind, rate_cents, capacity, rooms
		   FROM room_types
		  WHERE instr(lower(?1), kind) > 0
		  ORDER BY rate_cents`,
		text,
	)
	if err != nil {
		return nil, fmt.Errorf("query room types: %w", err)
	}
	defer rows.Close()

	var out []RoomType
	for rows.Next() {
		var r RoomType
		if err := rows.Scan(&r.Kind, &r.RateCents, &r.Capacity, &r.Rooms); err != nil {
			return nil, fmt.Errorf("scan room type: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
