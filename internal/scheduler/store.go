// Package scheduler provides the SQLite-backed appointment store, the
// scheduling tools exposed to the assistant, and the tool-using
// scheduling responder.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store errors.
var (
	// ErrUnknownDoctor indicates the named doctor does not exist.
	ErrUnknownDoctor = errors.New("unknown doctor")

	// ErrUnknownSlot indicates the doctor does not offer the requested slot.
	ErrUnknownSlot = errors.New("doctor does not offer this slot")

	// ErrSlotTaken indicates the slot is already booked.
	ErrSlotTaken = errors.New("slot already booked")

	// ErrAppointmentNotFound indicates no appointment has the given ID.
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Doctor is a bookable clinician.
type Doctor struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

// Appointment is a committed booking.
type Appointment struct {
	ID      string `json:"id"`
	Doctor  string `json:"doctor"`
	Time    string `json:"time"`
	Patient string `json:"patient,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Store persists doctors, their offered slots, and appointments.
// Safe for concurrent use; a UNIQUE constraint on (doctor, slot)
// makes double-booking a constraint violation, not a race.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed initializes) the scheduling database.
// Use ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS doctors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			specialty TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS slots (
			doctor_id INTEGER NOT NULL REFERENCES doctors(id),
			slot TEXT NOT NULL,
			PRIMARY KEY (doctor_id, slot)
		);
		CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			doctor_id INTEGER NOT NULL REFERENCES doctors(id),
			slot TEXT NOT NULL,
			patient TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE (doctor_id, slot)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// AddDoctor registers a doctor with their offered slots.
func (s *Store) AddDoctor(ctx context.Context, name, specialty string, slots []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO doctors (name, specialty) VALUES (?, ?)`, name, specialty)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("doctor id: %w", err)
	}

	for _, slot := range slots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slots (doctor_id, slot) VALUES (?, ?)`, id, slot); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	return tx.Commit()
}

// Doctors lists all doctors.
func (s *Store) Doctors(ctx context.Context) ([]Doctor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, specialty FROM doctors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		doctors = append(doctors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate doctors: %w", err)
	}
	return doctors, nil
}

// FreeSlots lists the doctor's offered slots that are not yet booked.
func (s *Store) FreeSlots(ctx context.Context, doctor string) ([]string, error) {
	id, err := s.doctorID(ctx, doctor)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT slot FROM slots
		WHERE doctor_id = ?
		  AND slot NOT IN (SELECT slot FROM appointments WHERE doctor_id = ?)
		ORDER BY slot
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return slots, nil
}

// CheckAvailable verifies the doctor offers the slot and it is free,
// without writing anything.
func (s *Store) CheckAvailable(ctx context.Context, doctor, slot string) error {
	id, err := s.doctorID(ctx, doctor)
	if err != nil {
		return err
	}

	var offered bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM slots WHERE doctor_id = ? AND slot = ?)`,
		id, slot).Scan(&offered)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	if !offered {
		return fmt.Errorf("%w: %s at %s", ErrUnknownSlot, doctor, slot)
	}

	var taken bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM appointments WHERE doctor_id = ? AND slot = ?)`,
		id, slot).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check booking: %w", err)
	}
	if taken {
		return fmt.Errorf("%w: %s at %s", ErrSlotTaken, doctor, slot)
	}

	return nil
}

// Book commits an appointment. A concurrent booking of the same slot
// loses on the UNIQUE constraint and gets ErrSlotTaken.
func (s *Store) Book(ctx context.Context, doctor, slot, patient, reason string) (Appointment, error) {
	if err := s.CheckAvailable(ctx, doctor, slot); err != nil {
		return Appointment{}, err
	}

	id, err := s.doctorID(ctx, doctor)
	if err != nil {
		return Appointment{}, err
	}

	appt := Appointment{
		ID:      uuid.New().String(),
		Doctor:  doctor,
		Time:    slot,
		Patient: patient,
		Reason:  reason,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, doctor_id, slot, patient, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, appt.ID, id, slot, patient, reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return Appointment{}, fmt.Errorf("%w: %s at %s", ErrSlotTaken, doctor, slot)
		}
		return Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	return appt, nil
}

// Cancel removes an appointment by ID.
func (s *Store) Cancel(ctx context.Context, appointmentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM appointments WHERE id = ?`, appointmentID)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAppointmentNotFound, appointmentID)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) doctorID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM doctors WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDoctor, name)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup doctor: %w", err)
	}
	return id, nil
}

// isUniqueViolation matches the driver's constraint error text. The
// modernc driver does not export a typed constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
