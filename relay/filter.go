package relay

import (
	"strings"

	"github.com/yllada/relayhop/common"
)

// GeoCriteria selects candidates by geography. Criteria combine with
// logical OR; with no active criterion every candidate passes.
type GeoCriteria struct {
	// Europe keeps candidates located in Europe.
	Europe bool
	// Countries keeps candidates whose code matches any entry (exact,
	// case-insensitive).
	Countries []string
}

func (g GeoCriteria) active() bool {
	return g.Europe || len(g.Countries) > 0
}

// europeCodes is the ISO 3166-1 alpha-2 set treated as Europe.
var europeCodes = map[string]bool{
	"AD": true, "AL": true, "AT": true, "BA": true, "BE": true, "BG": true,
	"BY": true, "CH": true, "CY": true, "CZ": true, "DE": true, "DK": true,
	"EE": true, "ES": true, "FI": true, "FR": true, "GB": true, "GR": true,
	"HR": true, "HU": true, "IE": true, "IS": true, "IT": true, "LI": true,
	"LT": true, "LU": true, "LV": true, "MC": true, "MD": true, "ME": true,
	"MK": true, "MT": true, "NL": true, "NO": true, "PL": true, "PT": true,
	"RO": true, "RS": true, "SE": true, "SI": true, "SK": true, "SM": true,
	"UA": true, "VA": true,
}

// FilterGeography returns the candidates matching the criteria, preserving
// input order. The filter is stable and idempotent.
func FilterGeography(cands []*Candidate, crit GeoCriteria) []*Candidate {
	if !crit.active() {
		return cands
	}

	kept := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		code := strings.ToUpper(c.CountryCode)
		if crit.Europe && europeCodes[code] {
			kept = append(kept, c)
			continue
		}
		if common.StringInSlice(code, crit.Countries) {
			kept = append(kept, c)
		}
	}
	return kept
}
