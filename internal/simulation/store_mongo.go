package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	syncx "github.com/mind-engage/gradecalc/internal/sync"
)

// MongoStore keeps users, simulations and the event log in three
// collections of one database.
type MongoStore struct {
	db          *mongo.Database
	users       *mongo.Collection
	simulations *mongo.Collection
	events      *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:          db,
		users:       db.Collection("users"),
		simulations: db.Collection("simulations"),
		events:      db.Collection("event_log"),
	}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "external_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	_, err = s.simulations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("simulations index: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

type userDoc struct {
	ID           string `bson:"_id"`
	ExternalID   string `bson:"external_id"`
	Username     string `bson:"username"`
	Role         string `bson:"role"`
	PasswordHash string `bson:"password_hash,omitempty"`
	CreatedAt    int64  `bson:"created_at"`
}

func userToDoc(u User) userDoc {
	return userDoc{
		ID: u.ID, ExternalID: u.ExternalID, Username: u.Username,
		Role: u.Role, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt,
	}
}

func (d userDoc) user() User {
	return User{
		ID: d.ID, ExternalID: d.ExternalID, Username: d.Username,
		Role: d.Role, PasswordHash: d.PasswordHash, CreatedAt: d.CreatedAt,
	}
}

type evaluationDoc struct {
	Name     string   `bson:"name"`
	Weight   float64  `bson:"weight"`
	Grade    *float64 `bson:"grade"`
	MaxGrade float64  `bson:"max_grade"`
}

type simulationDoc struct {
	ID             string          `bson:"_id"`
	CourseID       string          `bson:"course_id"`
	UserID         string          `bson:"user_id"`
	CurrentAverage float64         `bson:"current_average"`
	GradeNeeded    *float64        `bson:"grade_needed"`
	PassingGrade   float64         `bson:"passing_grade"`
	IsApproved     bool            `bson:"is_approved"`
	Evaluations    []evaluationDoc `bson:"evaluations"`
	CreatedAt      int64           `bson:"created_at"`
}

func simulationToDoc(sim Simulation) simulationDoc {
	d := simulationDoc{
		ID: sim.ID, CourseID: sim.CourseID, UserID: sim.UserID,
		CurrentAverage: sim.CurrentAverage, GradeNeeded: sim.GradeNeeded,
		PassingGrade: sim.PassingGrade, IsApproved: sim.IsApproved,
		CreatedAt: sim.CreatedAt,
	}
	d.Evaluations = make([]evaluationDoc, len(sim.Evaluations))
	for i, e := range sim.Evaluations {
		d.Evaluations[i] = evaluationDoc{Name: e.Name, Weight: e.Weight, Grade: e.Grade, MaxGrade: e.MaxGrade}
	}
	return d
}

func (d simulationDoc) simulation() Simulation {
	sim := Simulation{
		ID: d.ID, CourseID: d.CourseID, UserID: d.UserID,
		CurrentAverage: d.CurrentAverage, GradeNeeded: d.GradeNeeded,
		PassingGrade: d.PassingGrade, IsApproved: d.IsApproved,
		CreatedAt: d.CreatedAt,
	}
	sim.Evaluations = make([]Evaluation, len(d.Evaluations))
	for i, e := range d.Evaluations {
		sim.Evaluations[i] = Evaluation{Name: e.Name, Weight: e.Weight, Grade: e.Grade, MaxGrade: e.MaxGrade}
	}
	return sim
}

type eventDoc struct {
	SiteID    string `bson:"site_id"`
	Type      string `bson:"typ"`
	Key       string `bson:"key"`
	Data      string `bson:"data"`
	CreatedAt int64  `bson:"created_at"`
}

func (s *MongoStore) appendEvent(ctx context.Context, typ, key string, payload any) error {
	ev, err := syncx.NewEvent(typ, key, payload)
	if err != nil {
		return err
	}
	_, err = s.events.InsertOne(ctx, eventDoc{
		SiteID: "local", Type: ev.Type, Key: ev.Key, Data: ev.DataJSON, CreatedAt: time.Now().UnixMilli(),
	})
	return err
}

func (s *MongoStore) UpsertUser(ctx context.Context, u User) (User, bool, error) {
	if u.ExternalID == "" {
		u.ExternalID = LocalExternalID(u.Username)
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}

	var existing userDoc
	err := s.users.FindOne(ctx, bson.M{"external_id": u.ExternalID}).Decode(&existing)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, false, err
	}
	found := err == nil

	var holder userDoc
	herr := s.users.FindOne(ctx, bson.M{"username": u.Username}).Decode(&holder)
	switch {
	case errors.Is(herr, mongo.ErrNoDocuments):
	case herr != nil:
		return User{}, false, herr
	case !found || holder.ID != existing.ID:
		return User{}, false, fmt.Errorf("%w: username %q belongs to another account", ErrConflict, u.Username)
	}

	inserted := false
	switch {
	case !found:
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		u.CreatedAt = time.Now().UnixMilli()
		if _, err := s.users.InsertOne(ctx, userToDoc(u)); err != nil {
			return User{}, false, err
		}
		inserted = true
	default:
		u.ID, u.CreatedAt = existing.ID, existing.CreatedAt
		set := bson.M{"external_id": u.ExternalID, "username": u.Username, "role": u.Role}
		if u.PasswordHash != "" {
			set["password_hash"] = u.PasswordHash
		} else {
			u.PasswordHash = existing.PasswordHash
		}
		if _, err := s.users.UpdateByID(ctx, u.ID, bson.M{"$set": set}); err != nil {
			return User{}, false, err
		}
	}

	if err := s.appendEvent(ctx, syncx.TypeUserUpserted, u.ID, map[string]string{"username": u.Username, "role": u.Role}); err != nil {
		return User{}, false, err
	}
	return u, inserted, nil
}

func (s *MongoStore) GetUserByExternalID(ctx context.Context, externalID string) (User, error) {
	return s.findUser(ctx, bson.M{"external_id": externalID})
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (User, error) {
	var d userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return d.user(), nil
}

func (s *MongoStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	filter := bson.M{}
	if role != "" {
		filter["role"] = role
	}
	cur, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []User{}
	for cur.Next(ctx) {
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.user())
	}
	return out, cur.Err()
}

// CreateSimulation inserts the simulation, then its event. The two writes
// are not atomic: a failed event insert is returned but the simulation stays.
func (s *MongoStore) CreateSimulation(ctx context.Context, sim Simulation) (Simulation, error) {
	if sim.ID == "" {
		sim.ID = uuid.NewString()
	}
	if sim.CreatedAt == 0 {
		sim.CreatedAt = time.Now().UnixMilli()
	}
	if _, err := s.simulations.InsertOne(ctx, simulationToDoc(sim)); err != nil {
		return Simulation{}, err
	}
	err := s.appendEvent(ctx, syncx.TypeSimulationSaved, sim.ID, map[string]any{
		"course_id":       sim.CourseID,
		"user_id":         sim.UserID,
		"current_average": sim.CurrentAverage,
		"grade_needed":    sim.GradeNeeded,
		"is_approved":     sim.IsApproved,
	})
	if err != nil {
		return Simulation{}, fmt.Errorf("append event: %w", err)
	}
	return sim, nil
}

func (s *MongoStore) GetSimulation(ctx context.Context, id string) (Simulation, error) {
	var d simulationDoc
	if err := s.simulations.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Simulation{}, ErrNotFound
		}
		return Simulation{}, err
	}
	return d.simulation(), nil
}

func (s *MongoStore) ListSimulations(ctx context.Context, opts ListOpts) ([]Simulation, error) {
	opts = opts.normalized()
	filter := bson.M{"user_id": opts.UserID}
	if opts.CourseID != "" {
		filter["course_id"] = opts.CourseID
	}
	fo := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	cur, err := s.simulations.Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []Simulation{}
	for cur.Next(ctx) {
		var d simulationDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.simulation())
	}
	return out, cur.Err()
}
