package station

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Type int

const (
	Public Type = iota
	Private
)

// Station is a docking location. Location.P.X holds the latitude and
// Location.P.Y the longitude.
type Station struct {
	ID        uuid.UUID    `db:"id"`
	Name      string       `db:"name"`
	Address   string       `db:"address"`
	Capacity  int          `db:"capacity"`
	Location  pgtype.Point `db:"location"`
	Type      Type         `db:"type"`
	Active    bool         `db:"active"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`

	// AvailableCycles is computed by read queries and ignored on writes.
	AvailableCycles int `db:"available_cycles"`
}

func NewLocation(lat, lng float64) pgtype.Point {
	return pgtype.Point{P: pgtype.Vec2{X: lat, Y: lng}, Valid: true}
}

func (s Station) Lat() float64 { return s.Location.P.X }
func (s Station) Lng() float64 { return s.Location.P.Y }

func (t Type) String() string {
	return [...]string{"public", "private"}[t]
}

func ParseType(s string) (Type, error) {
	switch s {
	case "public", "":
		return Public, nil
	case "private":
		return Private, nil
	}
	return Public, fmt.Errorf("invalid station type %q", s)
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t Type) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *Type) Scan(i any) error {
	var s string
	switch v := i.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("invalid scan type %T for station type", i)
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}
