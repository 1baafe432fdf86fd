package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
)

// record is one CSV row addressed by column name
type record struct {
	fields []string
	idx    map[string]int
}

func (r record) get(field string) string {
	if i, ok := r.idx[field]; ok && i < len(r.fields) {
		return strings.TrimSpace(r.fields[i])
	}
	return ""
}

func (r record) float(field string) float64 {
	v, _ := strconv.ParseFloat(r.get(field), 64)
	return v
}

func (r record) int(field string) int {
	v, _ := strconv.Atoi(r.get(field))
	return v
}

// Parse reads a GTFS zip file and returns the routes, stops, trips and shapes
// it contains. Missing optional files leave the matching field empty.
func Parse(zipPath string) (*Data, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	// Index files by name; GTFS archives are flat
	files := make(map[string]*zip.File)
	for _, f := range r.File {
		files[f.Name] = f
	}

	for _, required := range []string{"routes.txt", "stops.txt", "trips.txt"} {
		if _, ok := files[required]; !ok {
			return nil, fmt.Errorf("GTFS archive is missing %s", required)
		}
	}

	data := &Data{
		Agencies: make(map[string]string),
		Shapes:   make(map[string][]ShapePoint),
	}

	// agency.txt and shapes.txt are optional. Without agencies the operator
	// falls back to agency_id, without shapes routes have no geometry.
	parsers := []struct {
		name  string
		parse func(record)
	}{
		{"agency.txt", func(rec record) {
			data.Agencies[rec.get("agency_id")] = rec.get("agency_name")
		}},
		{"routes.txt", func(rec record) {
			data.Routes = append(data.Routes, Route{
				RouteID:        rec.get("route_id"),
				AgencyID:       rec.get("agency_id"),
				RouteShortName: rec.get("route_short_name"),
				RouteLongName:  rec.get("route_long_name"),
				RouteType:      rec.int("route_type"),
			})
		}},
		{"stops.txt", func(rec record) {
			data.Stops = append(data.Stops, Stop{
				StopID:       rec.get("stop_id"),
				StopCode:     rec.get("stop_code"),
				StopName:     rec.get("stop_name"),
				PlatformCode: rec.get("platform_code"),
				StopLat:      rec.float("stop_lat"),
				StopLon:      rec.float("stop_lon"),
				LocationType: rec.int("location_type"),
			})
		}},
		{"trips.txt", func(rec record) {
			data.Trips = append(data.Trips, Trip{
				RouteID:      rec.get("route_id"),
				TripID:       rec.get("trip_id"),
				TripHeadsign: rec.get("trip_headsign"),
				DirectionID:  rec.int("direction_id"),
				ShapeID:      rec.get("shape_id"),
			})
		}},
		{"shapes.txt", func(rec record) {
			id := rec.get("shape_id")
			data.Shapes[id] = append(data.Shapes[id], ShapePoint{
				Lat:      rec.float("shape_pt_lat"),
				Lon:      rec.float("shape_pt_lon"),
				Sequence: rec.int("shape_pt_sequence"),
			})
		}},
	}

	for _, p := range parsers {
		f, ok := files[p.name]
		if !ok {
			continue
		}
		if err := eachRecord(f, p.parse); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p.name, err)
		}
	}

	// shapes.txt rows are not guaranteed to be in sequence order
	for _, points := range data.Shapes {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Sequence < points[j].Sequence
		})
	}

	log.Printf("GTFS parsed: %d routes, %d stops, %d trips, %d shapes",
		len(data.Routes), len(data.Stops), len(data.Trips), len(data.Shapes))

	return data, nil
}

// eachRecord streams the rows of a CSV file inside the archive. Malformed rows
// are skipped.
func eachRecord(f *zip.File, fn func(record)) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1 // Some feeds pad trailing columns
	reader.ReuseRecord = true   // shapes.txt can run to millions of rows

	header, err := reader.Read()
	if err != nil {
		return err
	}
	idx := makeIndex(header)

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Skip malformed rows rather than abandoning the whole file
			continue
		}
		fn(record{fields: fields, idx: idx})
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		// Strip the UTF-8 BOM some exporters put before the first header
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	return idx
}
