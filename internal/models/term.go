package models

import (
	"fmt"
	"strings"
	"time"
)

// Season enumerates the academic seasons a term can occupy.
type Season string

const (
	SeasonSpring Season = "SPRING"
	SeasonSummer Season = "SUMMER"
	SeasonFall   Season = "FALL"
	SeasonWinter Season = "WINTER"
)

// Seasons lists the valid values in calendar order.
var Seasons = []Season{SeasonSpring, SeasonSummer, SeasonFall, SeasonWinter}

// ParseSeason normalises a client-supplied season string.
func ParseSeason(raw string) (Season, bool) {
	s := Season(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case SeasonSpring, SeasonSummer, SeasonFall, SeasonWinter:
		return s, true
	}
	return "", false
}

// Term models an academic term. Uniqueness is the (season, start_date) pair.
type Term struct {
	ID        string    `db:"id" json:"-"`
	PublicID  string    `db:"public_id" json:"public_id"`
	Season    Season    `db:"season" json:"season"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Name renders the display form used across listings, e.g. "FALL 2026".
func (t Term) Name() string {
	return fmt.Sprintf("%s %d", t.Season, t.StartDate.Year())
}

// TermFilter defines filters supported by the term list endpoint.
type TermFilter struct {
	Season    Season
	Year      int
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
