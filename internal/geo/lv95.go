package geo

import "github.com/paulmach/orb"

// WGS84ToLV95 converts WGS84 degrees to Swiss LV95 (EPSG:2056) meters using
// the swisstopo approximation, accurate to about one meter inside Switzerland.
func WGS84ToLV95(lon, lat float64) (east, north float64) {
	// auxiliary values in units of 10000"
	phi := (lat*3600 - 169028.66) / 10000
	lambda := (lon*3600 - 26782.5) / 10000

	phi2 := phi * phi
	lambda2 := lambda * lambda

	east = 2600072.37 +
		211455.93*lambda -
		10938.51*lambda*phi -
		0.36*lambda*phi2 -
		44.54*lambda2*lambda

	north = 1200147.07 +
		308807.95*phi +
		3745.25*lambda2 +
		76.63*phi2 -
		194.56*lambda2*phi +
		119.79*phi2*phi
	return east, north
}

// ToLV95 projects lon/lat points.
func ToLV95(points []orb.Point) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, p := range points {
		e, n := WGS84ToLV95(p.Lon(), p.Lat())
		out[i] = orb.Point{e, n}
	}
	return out
}
