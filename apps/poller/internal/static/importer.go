package static

import (
	"sort"
	"strings"

	"github.com/cormacmadden/life-os/apps/poller/internal/db"
	"github.com/cormacmadden/life-os/apps/poller/internal/static/gtfs"
	"github.com/cormacmadden/life-os/internal/geo"
)

// minSegmentMeters drops degenerate shapes that would render as a dot
const minSegmentMeters = 20

// BuildImport converts parsed GTFS into timetable rows. Each route label gets
// one segment per distinct shape used by its trips; routes sharing a label
// across operators are merged under that label.
func BuildImport(data *gtfs.Data) *db.StaticImport {
	out := &db.StaticImport{}

	for _, s := range data.Stops {
		// stations and entrances are not boardable
		if s.LocationType != 0 || (s.StopLat == 0 && s.StopLon == 0) {
			continue
		}
		out.Stops = append(out.Stops, db.StaticStop{
			StopID:    s.StopID,
			StopCode:  s.StopCode,
			Name:      s.StopName,
			Indicator: s.PlatformCode,
			Latitude:  s.StopLat,
			Longitude: s.StopLon,
		})
	}

	routes := make(map[string]db.StaticRoute, len(data.Routes))
	for _, r := range data.Routes {
		label := r.Label()
		if label == "" {
			continue
		}
		operator := data.Agencies[r.AgencyID]
		if operator == "" {
			operator = r.AgencyID
		}
		row := db.StaticRoute{
			RouteID:   r.RouteID,
			ShortName: label,
			Operator:  operator,
			LongName:  r.RouteLongName,
		}
		routes[r.RouteID] = row
		out.Routes = append(out.Routes, row)
	}

	// label key -> shape ids, first route seen names the label and operator
	type labelShapes struct {
		route  db.StaticRoute
		shapes map[string]struct{}
	}
	byLabel := make(map[string]*labelShapes)

	for _, t := range data.Trips {
		route, ok := routes[t.RouteID]
		if !ok {
			continue
		}
		out.Trips = append(out.Trips, db.StaticTrip{
			TripID:   t.TripID,
			RouteID:  t.RouteID,
			Headsign: t.TripHeadsign,
			ShapeID:  t.ShapeID,
		})

		if t.ShapeID == "" {
			continue
		}
		key := strings.ToUpper(route.ShortName)
		ls, ok := byLabel[key]
		if !ok {
			ls = &labelShapes{route: route, shapes: make(map[string]struct{})}
			byLabel[key] = ls
		}
		ls.shapes[t.ShapeID] = struct{}{}
	}

	labels := make([]string, 0, len(byLabel))
	for key := range byLabel {
		labels = append(labels, key)
	}
	sort.Strings(labels)

	for _, key := range labels {
		ls := byLabel[key]
		shapeIDs := make([]string, 0, len(ls.shapes))
		for id := range ls.shapes {
			shapeIDs = append(shapeIDs, id)
		}
		sort.Strings(shapeIDs)

		for _, id := range shapeIDs {
			points := data.Shapes[id]
			line := make([]geo.Point, len(points))
			for i, p := range points {
				line[i] = geo.Point{Lat: p.Lat, Lng: p.Lon}
			}
			if geo.LineLength(line) < minSegmentMeters {
				continue
			}

			seg := db.RouteSegment{
				RouteLabel: ls.route.ShortName,
				Operator:   ls.route.Operator,
				Points:     make([][2]float64, len(points)),
			}
			for i, p := range points {
				seg.Points[i] = [2]float64{p.Lon, p.Lat}
			}
			out.Segments = append(out.Segments, seg)
		}
	}

	return out
}
