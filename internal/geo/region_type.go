package geo

import (
	"github.com/rotisserie/eris"
)

// RegionType classifies an administrative or legislative region.
type RegionType string

// Region types. Regions of different types overlap by nature.
const (
	State         RegionType = "state"
	County        RegionType = "county"
	Congressional RegionType = "congressional"
	StateUpper    RegionType = "state_upper"
	StateLower    RegionType = "state_lower"
)

// DistrictTypes are the region types cached on each stakeholder.
var DistrictTypes = []RegionType{Congressional, StateUpper, StateLower}

// MAF/TIGER feature class codes per region type.
var mtfccByType = map[RegionType]string{
	State:         "G4000",
	County:        "G4020",
	Congressional: "G5200",
	StateUpper:    "G5210",
	StateLower:    "G5220",
}

// ParseRegionType validates s as a RegionType.
func ParseRegionType(s string) (RegionType, error) {
	t := RegionType(s)
	if _, ok := mtfccByType[t]; !ok {
		return "", eris.Errorf("geo: unknown region type %q", s)
	}
	return t, nil
}

// MTFCC returns the feature class code for t.
func (t RegionType) MTFCC() string { return mtfccByType[t] }

// IsDistrict reports whether stakeholders carry a reference of this type.
func (t RegionType) IsDistrict() bool {
	for _, d := range DistrictTypes {
		if d == t {
			return true
		}
	}
	return false
}

// RegionTypeForMTFCC maps a feature class code back to its region type.
func RegionTypeForMTFCC(code string) (RegionType, bool) {
	for t, c := range mtfccByType {
		if c == code {
			return t, true
		}
	}
	return "", false
}
