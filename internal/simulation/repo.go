package simulation

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type ListOpts struct {
	UserID   string // required
	CourseID string // optional filter
	Limit    int
	Offset   int
}

func (o ListOpts) normalized() ListOpts {
	if o.Limit <= 0 || o.Limit > 200 {
		o.Limit = 50
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

type Store interface {
	// UpsertUser matches on external id only. It returns ErrConflict when
	// u.Username is held by a row with a different external id. Existing
	// rows keep their id and, when u.PasswordHash is empty, their password
	// hash. The bool reports whether a row was inserted.
	UpsertUser(ctx context.Context, u User) (User, bool, error)
	GetUserByExternalID(ctx context.Context, externalID string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, role string) ([]User, error)

	CreateSimulation(ctx context.Context, s Simulation) (Simulation, error)
	GetSimulation(ctx context.Context, id string) (Simulation, error)
	// ListSimulations returns newest first.
	ListSimulations(ctx context.Context, opts ListOpts) ([]Simulation, error)

	Ping(ctx context.Context) error
}
