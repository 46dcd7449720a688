package crs

import "github.com/strata-gis/strata/internal/domain"

// Built-in descriptors for the reference systems the catalog meets in
// practice. Codes outside this set go through the provider hook.
var builtins = map[string]domain.CRSDescriptor{
	"EPSG:4326": {
		Identifier: "EPSG:4326",
		Authority:  "EPSG",
		Code:       4326,
		Name:       "WGS 84",
		Unit:       "degree",
		Projected:  false,
		WKT:        `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`,
		Envelope:   domain.NewEnvelope(-180, -90, 180, 90),
	},
	"EPSG:3857": {
		Identifier: "EPSG:3857",
		Authority:  "EPSG",
		Code:       3857,
		Name:       "WGS 84 / Pseudo-Mercator",
		Unit:       "metre",
		Projected:  true,
		WKT:        `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AUTHORITY["EPSG","3857"]]`,
		Envelope:   domain.NewEnvelope(-20037508.34, -20048966.1, 20037508.34, 20048966.1),
	},
	"EPSG:4258": {
		Identifier: "EPSG:4258",
		Authority:  "EPSG",
		Code:       4258,
		Name:       "ETRS89",
		Unit:       "degree",
		Projected:  false,
		Envelope:   domain.NewEnvelope(-16.1, 32.88, 40.18, 84.73),
	},
	"EPSG:25832": {
		Identifier: "EPSG:25832",
		Authority:  "EPSG",
		Code:       25832,
		Name:       "ETRS89 / UTM zone 32N",
		Unit:       "metre",
		Projected:  true,
		Envelope:   domain.NewEnvelope(-1877994.66, 3638086.74, 3473041.38, 9494203.2),
	},
	"EPSG:28992": {
		Identifier: "EPSG:28992",
		Authority:  "EPSG",
		Code:       28992,
		Name:       "Amersfoort / RD New",
		Unit:       "metre",
		Projected:  true,
		Envelope:   domain.NewEnvelope(-7000, 289000, 300000, 629000),
	},
	"EPSG:32633": {
		Identifier: "EPSG:32633",
		Authority:  "EPSG",
		Code:       32633,
		Name:       "WGS 84 / UTM zone 33N",
		Unit:       "metre",
		Projected:  true,
		Envelope:   domain.NewEnvelope(166021.44, 0, 833978.56, 9329005.18),
	},
}

// builtinDescriptor returns the built-in descriptor for a canonical
// identifier, if there is one.
func builtinDescriptor(canonical string) (domain.CRSDescriptor, bool) {
	d, ok := builtins[canonical]
	return d, ok
}

// BuiltinIdentifiers lists the canonical identifiers known without a
// provider, for diagnostics.
func BuiltinIdentifiers() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	return ids
}
