package http

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/gradecalc/internal/httpx"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

// bcryptCost is lowered in tests.
var bcryptCost = 12

type userRow struct {
	ExternalID string `json:"externalId,omitempty"`
	Username   string `json:"username"`
	Role       string `json:"role"`               // defaults to "student"
	Password   string `json:"password,omitempty"` // plaintext, hashed before storing
}

var errBadRow = errors.New("bad user row")

// POST /api/users/bulk
// Accepts a JSON array body or a multipart file= upload (CSV or JSON).
func BulkUpsertUsersHandler(store simulation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			rows []userRow
			err  error
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, ferr := r.FormFile("file")
			if ferr != nil {
				httpx.WriteError(w, http.StatusBadRequest, "file required")
				return
			}
			defer f.Close()
			rows, err = readRows(f)
		} else {
			rows, err = readRows(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		}
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		ins, upd, err := upsertUsers(r.Context(), store, rows)
		switch {
		case errors.Is(err, errBadRow):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, simulation.ErrConflict):
			httpx.WriteError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			log.Printf("bulk users [%s]: %v", middleware.GetReqID(r.Context()), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /api/users?role=student
func ListUsersHandler(store simulation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := store.ListUsers(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			log.Printf("list users [%s]: %v", middleware.GetReqID(r.Context()), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		if users == nil {
			users = []simulation.User{}
		}
		httpx.WriteJSON(w, http.StatusOK, users)
	}
}

// readRows sniffs the first non-space byte: JSON starts with '[' or '{'
// and anything else is read as CSV.
func readRows(r io.Reader) ([]userRow, error) {
	br := bufio.NewReader(r)
	var first byte
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if b != ' ' && b != '\t' && b != '\r' && b != '\n' {
			first = b
			_ = br.UnreadByte()
			break
		}
	}
	if first != '[' && first != '{' {
		rows, err := parseCSV(br)
		if err != nil {
			return nil, fmt.Errorf("bad csv: %w", err)
		}
		return rows, nil
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	doc, err := decodeInstance(body)
	if err != nil {
		return nil, errors.New("bad json")
	}
	if err := usersBulkSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid users: %v", err)
	}
	var rows []userRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errors.New("bad json")
	}
	return rows, nil
}

func parseCSV(r io.Reader) ([]userRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["username"]; !ok {
		return nil, errors.New("missing column: username")
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	var rows []userRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, userRow{
			ExternalID: col(rec, "external_id"),
			Username:   col(rec, "username"),
			Role:       strings.ToLower(col(rec, "role")),
			Password:   col(rec, "password"),
		})
	}
	return rows, nil
}

// upsertUsers checks every row before writing any of them.
func upsertUsers(ctx context.Context, store simulation.Store, rows []userRow) (inserted, updated int, err error) {
	users := make([]simulation.User, 0, len(rows))
	for i, r := range rows {
		if r.Username == "" {
			return 0, 0, fmt.Errorf("%w %d: username required", errBadRow, i)
		}
		if r.Role == "" {
			r.Role = simulation.RoleStudent
		}
		if !simulation.ValidRole(r.Role) {
			return 0, 0, fmt.Errorf("%w %d: invalid role: %s", errBadRow, i, r.Role)
		}
		u := simulation.User{ExternalID: r.ExternalID, Username: r.Username, Role: r.Role}
		if r.Password != "" {
			h, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcryptCost)
			if err != nil {
				return 0, 0, err
			}
			u.PasswordHash = string(h)
		}
		users = append(users, u)
	}

	for _, u := range users {
		// Without an explicit subject an existing account keeps its own,
		// so a role change does not unlink a provider login.
		if u.ExternalID == "" {
			existing, err := store.GetUserByUsername(ctx, u.Username)
			switch {
			case err == nil:
				u.ExternalID = existing.ExternalID
			case errors.Is(err, simulation.ErrNotFound):
				u.ExternalID = simulation.LocalExternalID(u.Username)
			default:
				return inserted, updated, err
			}
		}
		_, isNew, err := store.UpsertUser(ctx, u)
		if err != nil {
			return inserted, updated, fmt.Errorf("upsert %s: %w", u.Username, err)
		}
		if isNew {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}
