// Package geo turns a KML area of interest into an EPSG:2056 bounding box.
package geo

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kiesman99/mapstyle/internal/failure"
)

// ErrNoCoordinates is returned for a KML document without any coordinates.
var ErrNoCoordinates = fmt.Errorf("%w: no coordinates found in KML", failure.ErrDataIntegrity)

// ParseKML returns every lon,lat tuple of every coordinates element, in
// document order. Altitudes are dropped. Elements are matched by local name,
// so both KML 2.2 and unqualified documents work.
func ParseKML(data []byte) ([]orb.Point, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var points []orb.Point
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse KML: %v", failure.ErrDataIntegrity, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "coordinates" {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return nil, fmt.Errorf("%w: parse KML: %v", failure.ErrDataIntegrity, err)
		}
		pts, err := parseCoordinates(text)
		if err != nil {
			return nil, err
		}
		points = append(points, pts...)
	}
	if len(points) == 0 {
		return nil, ErrNoCoordinates
	}
	return points, nil
}

func parseCoordinates(text string) ([]orb.Point, error) {
	var points []orb.Point
	for _, tuple := range strings.Fields(text) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: malformed coordinate %q", failure.ErrDataIntegrity, tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed longitude %q", failure.ErrDataIntegrity, parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed latitude %q", failure.ErrDataIntegrity, parts[1])
		}
		points = append(points, orb.Point{lon, lat})
	}
	return points, nil
}
