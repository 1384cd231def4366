// Package seed loads stations, cycles and an administrator from a YAML
// fixture file. Loading is idempotent: records that already exist are left
// untouched.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/station"
	"github.com/semanticallynull/cycleshare-backend/user"
)

type Fixtures struct {
	Admin    *Admin    `yaml:"admin"`
	Stations []Station `yaml:"stations"`
}

type Admin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type Station struct {
	Name     string  `yaml:"name"`
	Address  string  `yaml:"address"`
	Capacity int     `yaml:"capacity"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	Type     string  `yaml:"type"`
	Cycles   []Cycle `yaml:"cycles"`
}

type Cycle struct {
	Code      string `yaml:"code"`
	Model     string `yaml:"model"`
	Color     string `yaml:"color"`
	Condition string `yaml:"condition"`
}

func Parse(r io.Reader) (Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Fixtures{}, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return f, f.validate()
}

func (f Fixtures) validate() error {
	codes := map[string]bool{}
	for _, s := range f.Stations {
		if strings.TrimSpace(s.Name) == "" {
			return errors.New("station without a name")
		}
		if s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
			return fmt.Errorf("station %q: coordinates out of range", s.Name)
		}
		if _, err := station.ParseType(s.Type); err != nil {
			return fmt.Errorf("station %q: %w", s.Name, err)
		}
		for _, c := range s.Cycles {
			if c.Code == "" {
				return fmt.Errorf("station %q: cycle without a code", s.Name)
			}
			if codes[c.Code] {
				return fmt.Errorf("duplicate cycle code %q", c.Code)
			}
			codes[c.Code] = true
		}
	}
	if f.Admin != nil && len(f.Admin.Password) < user.MinPasswordLength {
		return fmt.Errorf("admin password must be at least %d characters", user.MinPasswordLength)
	}
	return nil
}

type StationStore interface {
	GetStations(ctx context.Context) ([]station.Station, error)
	CreateStation(ctx context.Context, s *station.Station) error
}

type CycleStore interface {
	GetCycleByCode(ctx context.Context, code string) (cycle.Cycle, error)
	CreateCycle(ctx context.Context, c *cycle.Cycle) error
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
}

type Loader struct {
	Stations StationStore
	Cycles   CycleStore
	Users    UserStore
	Logger   *slog.Logger
}

type Result struct {
	Stations int
	Cycles   int
	Admin    bool
}

func (l Loader) Load(ctx context.Context, f Fixtures) (Result, error) {
	var res Result

	existing, err := l.Stations.GetStations(ctx)
	if err != nil {
		return res, err
	}
	byName := map[string]uuid.UUID{}
	for _, s := range existing {
		byName[s.Name] = s.ID
	}

	for _, fs := range f.Stations {
		id, ok := byName[fs.Name]
		if !ok {
			typ, _ := station.ParseType(fs.Type)
			s := station.Station{
				Name:     fs.Name,
				Address:  fs.Address,
				Capacity: fs.Capacity,
				Location: station.NewLocation(fs.Lat, fs.Lng),
				Type:     typ,
			}
			if err := l.Stations.CreateStation(ctx, &s); err != nil {
				return res, fmt.Errorf("station %q: %w", fs.Name, err)
			}
			id = s.ID
			byName[fs.Name] = id
			res.Stations++
		}

		for _, fc := range fs.Cycles {
			_, err := l.Cycles.GetCycleByCode(ctx, fc.Code)
			if err == nil {
				continue
			}
			if !errors.Is(err, cycle.ErrNotFound) {
				return res, err
			}
			c := cycle.Cycle{
				Code:      fc.Code,
				StationID: &id,
				Model:     fc.Model,
				Color:     fc.Color,
				Condition: fc.Condition,
			}
			if err := l.Cycles.CreateCycle(ctx, &c); err != nil {
				return res, fmt.Errorf("cycle %q: %w", fc.Code, err)
			}
			res.Cycles++
		}
	}

	if f.Admin != nil {
		created, err := l.loadAdmin(ctx, *f.Admin)
		if err != nil {
			return res, err
		}
		res.Admin = created
	}

	if l.Logger != nil {
		l.Logger.InfoContext(ctx, "fixtures loaded",
			"stations", res.Stations, "cycles", res.Cycles, "admin", res.Admin)
	}
	return res, nil
}

func (l Loader) loadAdmin(ctx context.Context, a Admin) (bool, error) {
	_, err := l.Users.GetUserByEmail(ctx, a.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}
	hash, err := user.HashPassword(a.Password)
	if err != nil {
		return false, err
	}
	u := user.User{
		Email:        sql.NullString{String: a.Email, Valid: true},
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Name:         a.Name,
		Role:         user.RoleAdmin,
	}
	if err := l.Users.CreateUser(ctx, &u); err != nil {
		return false, fmt.Errorf("admin %q: %w", a.Email, err)
	}
	return true, nil
}
