package simulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	syncx "github.com/mind-engage/gradecalc/internal/sync"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) UpsertUser(ctx context.Context, u User) (out User, inserted bool, err error) {
	if u.ExternalID == "" {
		u.ExternalID = LocalExternalID(u.Username)
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	// The external id owns the row. A username held by another row is a
	// conflict, never a relink.
	var existingID string
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE external_id=$1`,
		u.ExternalID).Scan(&existingID, &createdAt)
	found := err == nil
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	if err != nil {
		return User{}, false, err
	}
	var holder string
	herr := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE username=$1`, u.Username).Scan(&holder)
	switch {
	case errors.Is(herr, sql.ErrNoRows):
	case herr != nil:
		return User{}, false, herr
	case holder != existingID:
		return User{}, false, fmt.Errorf("%w: username %q belongs to another account", ErrConflict, u.Username)
	}

	if !found {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		u.CreatedAt = time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, external_id, username, role, password_hash, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
			u.ID, u.ExternalID, u.Username, u.Role, u.PasswordHash, u.CreatedAt)
		if err != nil {
			return User{}, false, err
		}
		inserted = true
	} else {
		u.ID, u.CreatedAt = existingID, createdAt
		if u.PasswordHash != "" {
			_, err = tx.ExecContext(ctx,
				`UPDATE users SET external_id=$1, username=$2, role=$3, password_hash=$4 WHERE id=$5`,
				u.ExternalID, u.Username, u.Role, u.PasswordHash, u.ID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE users SET external_id=$1, username=$2, role=$3 WHERE id=$4`,
				u.ExternalID, u.Username, u.Role, u.ID)
		}
		if err != nil {
			return User{}, false, err
		}
	}

	ev, err := syncx.NewEvent(syncx.TypeUserUpserted, u.ID, map[string]string{"username": u.Username, "role": u.Role})
	if err != nil {
		return User{}, false, err
	}
	if err = syncx.AppendTx(ctx, tx, ev); err != nil {
		return User{}, false, err
	}
	return u, inserted, nil
}

const userCols = `id, external_id, username, role, password_hash, created_at`

func (s *SQLStore) GetUserByExternalID(ctx context.Context, externalID string) (User, error) {
	return s.getUser(ctx, `SELECT `+userCols+` FROM users WHERE external_id=$1`, externalID)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `SELECT `+userCols+` FROM users WHERE username=$1`, username)
}

func (s *SQLStore) getUser(ctx context.Context, q string, arg string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, q, arg).
		Scan(&u.ID, &u.ExternalID, &u.Username, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *SQLStore) ListUsers(ctx context.Context, role string) ([]User, error) {
	var rows *sql.Rows
	var err error
	if role == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY username`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users WHERE role=$1 ORDER BY username`, role)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ExternalID, &u.Username, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateSimulation stores sim and its SimulationSaved event in one
// transaction.
func (s *SQLStore) CreateSimulation(ctx context.Context, sim Simulation) (out Simulation, err error) {
	if sim.ID == "" {
		sim.ID = uuid.NewString()
	}
	if sim.CreatedAt == 0 {
		sim.CreatedAt = time.Now().UnixMilli()
	}
	ej, err := json.Marshal(sim.Evaluations)
	if err != nil {
		return Simulation{}, fmt.Errorf("marshal evaluations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Simulation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO simulations (id,course_id,user_id,current_average,grade_needed,passing_grade,is_approved,evaluations_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sim.ID, sim.CourseID, sim.UserID, sim.CurrentAverage, sim.GradeNeeded, sim.PassingGrade,
		sim.IsApproved, string(ej), sim.CreatedAt)
	if err != nil {
		return Simulation{}, err
	}

	ev, err := syncx.NewEvent(syncx.TypeSimulationSaved, sim.ID, map[string]any{
		"course_id":       sim.CourseID,
		"user_id":         sim.UserID,
		"current_average": sim.CurrentAverage,
		"grade_needed":    sim.GradeNeeded,
		"is_approved":     sim.IsApproved,
	})
	if err != nil {
		return Simulation{}, err
	}
	if err = syncx.AppendTx(ctx, tx, ev); err != nil {
		return Simulation{}, err
	}
	return sim, nil
}

const simCols = `id,course_id,user_id,current_average,grade_needed,passing_grade,is_approved,evaluations_json,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSimulation(r rowScanner) (Simulation, error) {
	var sim Simulation
	var needed sql.NullFloat64
	var ej string
	if err := r.Scan(&sim.ID, &sim.CourseID, &sim.UserID, &sim.CurrentAverage, &needed,
		&sim.PassingGrade, &sim.IsApproved, &ej, &sim.CreatedAt); err != nil {
		return Simulation{}, err
	}
	if needed.Valid {
		v := needed.Float64
		sim.GradeNeeded = &v
	}
	if err := json.Unmarshal([]byte(ej), &sim.Evaluations); err != nil {
		return Simulation{}, fmt.Errorf("decode evaluations for %s: %w", sim.ID, err)
	}
	return sim, nil
}

func (s *SQLStore) GetSimulation(ctx context.Context, id string) (Simulation, error) {
	sim, err := scanSimulation(s.db.QueryRowContext(ctx, `SELECT `+simCols+` FROM simulations WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Simulation{}, ErrNotFound
	}
	return sim, err
}

func (s *SQLStore) ListSimulations(ctx context.Context, opts ListOpts) ([]Simulation, error) {
	opts = opts.normalized()
	q := `SELECT ` + simCols + ` FROM simulations WHERE user_id=$1`
	args := []any{opts.UserID}
	if opts.CourseID != "" {
		q += ` AND course_id=$2`
		args = append(args, opts.CourseID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Simulation{}
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sim)
	}
	return out, rows.Err()
}
