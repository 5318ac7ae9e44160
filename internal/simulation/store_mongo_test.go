package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSimulationDoc_BSONRoundTrip(t *testing.T) {
	sim := Simulation{
		ID: "sim-1", CourseID: "calc-1", UserID: "u1",
		CurrentAverage: 2.8, GradeNeeded: ptr(9.63), PassingGrade: 10.5,
		Evaluations: []Evaluation{
			{Name: "Parcial 1", Weight: 0.2, Grade: ptr(14), MaxGrade: 20},
			{Name: "Examen Final", Weight: 0.8, MaxGrade: 20},
		},
		CreatedAt: 42,
	}

	raw, err := bson.Marshal(simulationToDoc(sim))
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "sim-1", m["_id"])
	assert.Equal(t, "calc-1", m["course_id"])

	var d simulationDoc
	require.NoError(t, bson.Unmarshal(raw, &d))
	assert.Equal(t, sim, d.simulation())
}

func TestUserDoc_OmitsEmptyPassword(t *testing.T) {
	u := User{ID: "u1", ExternalID: "google|1", Username: "ana@example.com", Role: RoleStudent, CreatedAt: 7}
	raw, err := bson.Marshal(userToDoc(u))
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	_, has := m["password_hash"]
	assert.False(t, has)

	var d userDoc
	require.NoError(t, bson.Unmarshal(raw, &d))
	assert.Equal(t, u, d.user())
}
