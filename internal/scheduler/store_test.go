package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/scheduler"
)

func newTestStore(t *testing.T) *scheduler.Store {
	t.Helper()
	store, err := scheduler.NewStore(filepath.Join(t.TempDir(), "clinic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDoctor(t *testing.T, store *scheduler.Store, name string, slots ...string) {
	t.Helper()
	require.NoError(t, store.AddDoctor(context.Background(), name, "general", slots))
}

func TestStore_Doctors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doctors, err := store.Doctors(ctx)
	require.NoError(t, err)
	assert.Empty(t, doctors)

	seedDoctor(t, store, "Dr. Patel", "10:00")
	seedDoctor(t, store, "Dr. Chen", "11:00")

	doctors, err = store.Doctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "Dr. Chen", doctors[0].Name, "ordered by name")
	assert.Equal(t, "Dr. Patel", doctors[1].Name)
}

func TestStore_FreeSlots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDoctor(t, store, "Dr. Chen", "10:00", "11:00", "14:00")

	slots, err := store.FreeSlots(ctx, "Dr. Chen")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:00", "14:00"}, slots)

	_, err = store.Book(ctx, "Dr. Chen", "11:00", "Sam", "checkup")
	require.NoError(t, err)

	slots, err = store.FreeSlots(ctx, "Dr. Chen")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "14:00"}, slots)
}

func TestStore_FreeSlots_UnknownDoctor(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FreeSlots(context.Background(), "Dr. Nobody")
	assert.ErrorIs(t, err, scheduler.ErrUnknownDoctor)
}

func TestStore_Book(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDoctor(t, store, "Dr. Chen", "10:00")

	appt, err := store.Book(ctx, "Dr. Chen", "10:00", "Sam", "checkup")
	require.NoError(t, err)

	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, "Dr. Chen", appt.Doctor)
	assert.Equal(t, "10:00", appt.Time)
	assert.Equal(t, "Sam", appt.Patient)
}

func TestStore_Book_Conflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDoctor(t, store, "Dr. Chen", "10:00")

	_, err := store.Book(ctx, "Dr. Chen", "10:00", "Sam", "")
	require.NoError(t, err)

	_, err = store.Book(ctx, "Dr. Chen", "10:00", "Alex", "")
	assert.ErrorIs(t, err, scheduler.ErrSlotTaken)
}

func TestStore_Book_UnofferedSlot(t *testing.T) {
	store := newTestStore(t)
	seedDoctor(t, store, "Dr. Chen", "10:00")

	_, err := store.Book(context.Background(), "Dr. Chen", "23:00", "Sam", "")
	assert.ErrorIs(t, err, scheduler.ErrUnknownSlot)
}

func TestStore_CheckAvailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDoctor(t, store, "Dr. Chen", "10:00")

	require.NoError(t, store.CheckAvailable(ctx, "Dr. Chen", "10:00"))

	// Checking must not reserve anything.
	require.NoError(t, store.CheckAvailable(ctx, "Dr. Chen", "10:00"))

	_, err := store.Book(ctx, "Dr. Chen", "10:00", "Sam", "")
	require.NoError(t, err)

	assert.ErrorIs(t, store.CheckAvailable(ctx, "Dr. Chen", "10:00"), scheduler.ErrSlotTaken)
	assert.ErrorIs(t, store.CheckAvailable(ctx, "Dr. Chen", "12:00"), scheduler.ErrUnknownSlot)
	assert.ErrorIs(t, store.CheckAvailable(ctx, "Dr. Nobody", "10:00"), scheduler.ErrUnknownDoctor)
}

func TestStore_Cancel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDoctor(t, store, "Dr. Chen", "10:00")

	appt, err := store.Book(ctx, "Dr. Chen", "10:00", "Sam", "")
	require.NoError(t, err)

	require.NoError(t, store.Cancel(ctx, appt.ID))

	// The slot frees up again.
	slots, err := store.FreeSlots(ctx, "Dr. Chen")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, slots)

	assert.ErrorIs(t, store.Cancel(ctx, appt.ID), scheduler.ErrAppointmentNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "clinic.db")
	ctx := context.Background()

	store1, err := scheduler.NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.AddDoctor(ctx, "Dr. Chen", "general", []string{"10:00"}))
	_, err = store1.Book(ctx, "Dr. Chen", "10:00", "Sam", "")
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := scheduler.NewStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	slots, err := store2.FreeSlots(ctx, "Dr. Chen")
	require.NoError(t, err)
	assert.Empty(t, slots)
}
