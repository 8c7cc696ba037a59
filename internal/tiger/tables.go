// Package tiger downloads Census TIGER/Line 2020 tabulation block shapefiles
// and bulk-loads them into the PostGIS census.blocks table used as the
// apportionment block source.
package tiger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Schema is the PostGIS schema holding block tables.
const Schema = "census"

// SRID of TIGER/Line geometry (NAD83).
const SRID = 4269

// BlocksTable is where tabulation blocks are loaded.
var BlocksTable = pgx.Identifier{Schema, "blocks"}

// LoadStatusTable records completed state loads.
var LoadStatusTable = pgx.Identifier{Schema, "load_status"}

// blockTableName is the name recorded in load_status.
const blockTableName = "tabblock20"

// BlockColumns are the census.blocks columns filled from TABBLOCK20
// attributes, in COPY order. The geometry column follows them.
var BlockColumns = []string{
	"geoid", "statefp", "countyfp", "tractce", "blockce",
	"aland", "awater", "pop20", "housing20",
}

// blockFields are the shapefile fields matching BlockColumns.
var blockFields = []string{
	"GEOID20", "STATEFP20", "COUNTYFP20", "TRACTCE20", "BLOCKCE20",
	"ALAND20", "AWATER20", "POP20", "HOUSING20",
}

// FIPSCodes maps state abbreviation to 2-digit FIPS code for the 50 states,
// DC and Puerto Rico.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56", "PR": "72",
}

var abbrByFIPS = func() map[string]string {
	m := make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		m[fips] = abbr
	}
	return m
}()

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// AllStateAbbrs returns every state abbreviation, sorted.
func AllStateAbbrs() []string {
	abbrs := make([]string, 0, len(FIPSCodes))
	for abbr := range FIPSCodes {
		abbrs = append(abbrs, abbr)
	}
	sort.Strings(abbrs)
	return abbrs
}

// ResolveStates normalizes abbreviations or FIPS codes to abbreviations.
// An empty list means every state.
func ResolveStates(states []string) ([]string, error) {
	if len(states) == 0 {
		return AllStateAbbrs(), nil
	}
	out := make([]string, 0, len(states))
	seen := make(map[string]bool, len(states))
	for _, s := range states {
		s = strings.ToUpper(strings.TrimSpace(s))
		if abbr, ok := AbbrFromFIPS(s); ok {
			s = abbr
		}
		if _, ok := FIPSCodes[s]; !ok {
			return nil, eris.Errorf("tiger: unknown state %q", s)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// BlockFileURL builds the download URL of a state's TABBLOCK20 shapefile.
// TABBLOCK20 files are published from the TIGER2020 vintage onward.
func BlockFileURL(year int, stateFIPS string) string {
	return fmt.Sprintf(
		"https://www2.census.gov/geo/tiger/TIGER%d/TABBLOCK20/tl_%d_%s_tabblock20.zip",
		year, year, stateFIPS,
	)
}
