package simulation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/gradecalc/internal/db"
	syncx "github.com/mind-engage/gradecalc/internal/sync"
)

func newSQLStore(t *testing.T) (*SQLStore, *syncx.EventRepo) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "gradecalc.db") + "?mode=rwc&_pragma=foreign_keys(1)"
	h, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return NewSQLStore(h, string(db.DriverSQLite)), syncx.NewEventRepo(h)
}

func ptr(v float64) *float64 { return &v }

func TestSQLStore_UpsertUser(t *testing.T) {
	ctx := context.Background()
	st, events := newSQLStore(t)

	u, inserted, err := st.UpsertUser(ctx, User{Username: "ana", PasswordHash: "h1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "local|ana", u.ExternalID)
	assert.Equal(t, RoleStudent, u.Role)

	// update keeps id and password hash when none is given
	u2, inserted, err := st.UpsertUser(ctx, User{Username: "ana", Role: RoleAdmin})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, u.ID, u2.ID)

	got, err := st.GetUserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, got.Role)
	assert.Equal(t, "h1", got.PasswordHash)

	got, err = st.GetUserByExternalID(ctx, "local|ana")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = st.GetUserByExternalID(ctx, "google|nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = st.UpsertUser(ctx, User{Username: "bea", ExternalID: "google|42"})
	require.NoError(t, err)

	all, err := st.ListUsers(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ana", all[0].Username)

	students, err := st.ListUsers(ctx, RoleStudent)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "bea", students[0].Username)

	evs, err := events.Since(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, syncx.TypeUserUpserted, evs[0].Type)
	// unix millis, like the users and simulations tables
	assert.Greater(t, evs[0].CreatedAt, int64(1e12))
}

func TestSQLStore_UpsertUserConflicts(t *testing.T) {
	ctx := context.Background()
	st, events := newSQLStore(t)

	boss, _, err := st.UpsertUser(ctx, User{Username: "boss@x.edu", Role: RoleAdmin, PasswordHash: "h1"})
	require.NoError(t, err)
	bea, _, err := st.UpsertUser(ctx, User{Username: "bea", ExternalID: "google|42"})
	require.NoError(t, err)

	// a new subject cannot take over a local username
	_, _, err = st.UpsertUser(ctx, User{Username: "boss@x.edu", ExternalID: "google|999"})
	assert.ErrorIs(t, err, ErrConflict)

	// a known subject cannot rename onto another row's username
	_, _, err = st.UpsertUser(ctx, User{Username: "boss@x.edu", ExternalID: "google|42"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := st.GetUserByExternalID(ctx, "local|boss@x.edu")
	require.NoError(t, err)
	assert.Equal(t, boss.ID, got.ID)
	assert.Equal(t, RoleAdmin, got.Role)
	assert.Equal(t, "h1", got.PasswordHash)
	_, err = st.GetUserByExternalID(ctx, "google|999")
	assert.ErrorIs(t, err, ErrNotFound)

	// renaming to a free username is fine
	renamed, inserted, err := st.UpsertUser(ctx, User{Username: "beatriz", ExternalID: "google|42"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, bea.ID, renamed.ID)

	evs, err := events.Since(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, evs, 3)
}

func TestSQLStore_Simulations(t *testing.T) {
	ctx := context.Background()
	st, events := newSQLStore(t)

	u, _, err := st.UpsertUser(ctx, User{Username: "ana"})
	require.NoError(t, err)

	first, err := st.CreateSimulation(ctx, Simulation{
		ID: "sim-1", CourseID: "calc-1", UserID: u.ID,
		CurrentAverage: 2.8, GradeNeeded: ptr(9.63), PassingGrade: 10.5,
		Evaluations: []Evaluation{
			{Name: "Parcial 1", Weight: 0.2, Grade: ptr(14), MaxGrade: 20},
			{Name: "Examen Final", Weight: 0.8, MaxGrade: 20},
		},
		CreatedAt: 1000,
	})
	require.NoError(t, err)
	_, err = st.CreateSimulation(ctx, Simulation{
		ID: "sim-2", CourseID: "calc-1", UserID: u.ID,
		CurrentAverage: 15, PassingGrade: 10.5, IsApproved: true,
		Evaluations: []Evaluation{{Name: "Final", Weight: 1, Grade: ptr(15), MaxGrade: 20}},
		CreatedAt:   2000,
	})
	require.NoError(t, err)
	_, err = st.CreateSimulation(ctx, Simulation{
		ID: "sim-3", CourseID: "phys-1", UserID: u.ID, PassingGrade: 10.5,
		Evaluations: []Evaluation{{Name: "Final", Weight: 1, MaxGrade: 20}},
		CreatedAt:   3000,
	})
	require.NoError(t, err)

	got, err := st.GetSimulation(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Nil(t, got.Evaluations[1].Grade)

	got, err = st.GetSimulation(ctx, "sim-2")
	require.NoError(t, err)
	assert.True(t, got.IsApproved)
	assert.Nil(t, got.GradeNeeded)

	_, err = st.GetSimulation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := st.ListSimulations(ctx, ListOpts{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "sim-3", list[0].ID)

	list, err = st.ListSimulations(ctx, ListOpts{UserID: u.ID, CourseID: "calc-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sim-1", list[0].ID)

	evs, err := events.Since(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, syncx.TypeSimulationSaved, evs[0].Type)
	assert.Equal(t, "sim-1", evs[0].Key)
	assert.Contains(t, evs[0].DataJSON, `"course_id":"calc-1"`)
}

func TestSQLStore_CreateSimulationUnknownUser(t *testing.T) {
	st, events := newSQLStore(t)
	ctx := context.Background()

	_, err := st.CreateSimulation(ctx, Simulation{CourseID: "c", UserID: "ghost", Evaluations: []Evaluation{}})
	require.Error(t, err)

	evs, err := events.Since(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, evs, "event must roll back with the insert")
}
