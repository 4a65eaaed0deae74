package gofusion

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// Exporter defines an export interface.
type Exporter interface {
	Write(Record) error
	Close() error
}

// Export writes every record of the time series to the exporter and closes it. The exporter
// is closed even if a write fails.
func Export(e Exporter, ts *TimeSeries) error {
	for _, rec := range ts.Records {
		if err := e.Write(rec); err != nil {
			if cerr := e.Close(); cerr != nil {
				return errors.Wrapf(err, "exporting tick %d (close: %s)", rec.Tick, cerr)
			}
			return errors.Wrapf(err, "exporting tick %d", rec.Tick)
		}
	}
	return errors.Wrap(e.Close(), "closing export")
}

// CSVExporter writes one line per record with the truth, the estimate and its ±2σ bounds, the
// GPS fix (if any) and the NIS.
type CSVExporter struct {
	hdlr *os.File
	w    *csv.Writer
}

// NewCSVExporter initializes a new CSV export.
func NewCSVExporter(dir, filename string) (*CSVExporter, error) {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}
	hdr := []string{"tick", "t"}
	for _, h := range StateHeaders {
		hdr = append(hdr, "true_"+h)
	}
	for _, h := range StateHeaders {
		hdr = append(hdr, h, h+"+2s", h+"-2s")
	}
	hdr = append(hdr, "gps_x", "gps_y", "nis")
	if _, err := fmt.Fprintf(f, "# Creation date (UTC): %s\n", time.Now().UTC()); err != nil {
		f.Close()
		return nil, err
	}
	e := &CSVExporter{hdlr: f, w: csv.NewWriter(f)}
	if err := e.w.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

// Write writes the record to the CSV file. The bounds are around the estimate.
func (e *CSVExporter) Write(rec Record) error {
	vals := []string{strconv.Itoa(rec.Tick), formatFloat(rec.Time)}
	truth := rec.TrueVector()
	for i := 0; i < StateSize; i++ {
		vals = append(vals, formatFloat(truth.AtVec(i)))
	}
	for i := 0; i < StateSize; i++ {
		x := rec.Mean.AtVec(i)
		twoσ := 2 * math.Sqrt(rec.Covariance.At(i, i))
		vals = append(vals, formatFloat(x), formatFloat(x+twoσ), formatFloat(x-twoσ))
	}
	if rec.GPS != nil {
		vals = append(vals, formatFloat(rec.GPS.X), formatFloat(rec.GPS.Y), formatFloat(rec.NIS))
	} else {
		vals = append(vals, "", "", "")
	}
	return e.w.Write(vals)
}

// Name returns the path of the file.
func (e *CSVExporter) Name() string {
	return e.hdlr.Name()
}

// Close flushes and closes the file.
func (e *CSVExporter) Close() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		e.hdlr.Close()
		return err
	}
	if _, err := fmt.Fprintf(e.hdlr, "# Closing date (UTC): %s\n", time.Now().UTC()); err != nil {
		e.hdlr.Close()
		return err
	}
	return e.hdlr.Close()
}

// JSONExporter writes the metadata of the run followed by one record per line.
type JSONExporter struct {
	hdlr *os.File
	enc  *json.Encoder
}

// NewJSONExporter creates the file and writes the metadata line.
func NewJSONExporter(path string, meta Meta) (*JSONExporter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	e := &JSONExporter{hdlr: f, enc: json.NewEncoder(f)}
	if err := e.enc.Encode(meta); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "encoding metadata")
	}
	return e, nil
}

// Write appends the record to the file.
func (e *JSONExporter) Write(rec Record) error {
	return e.enc.Encode(rec)
}

// Name returns the path of the file.
func (e *JSONExporter) Name() string {
	return e.hdlr.Name()
}

// Close closes the file.
func (e *JSONExporter) Close() error {
	return e.hdlr.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// ENUToGeodetic returns the geodetic point at the provided local east and north offsets, in
// meters, from the origin.
func ENUToGeodetic(origin orb.Point, east, north float64) orb.Point {
	d := math.Hypot(east, north)
	if d == 0 {
		return origin
	}
	bearing := math.Atan2(east, north) * 180 / math.Pi
	return geo.PointAtBearingAndDistance(origin, bearing, d)
}

// GeoJSONExporter writes the true and estimated paths as line strings and the GPS fixes as
// points of a feature collection. The local frame is anchored at Origin with x to the east
// and y to the north.
type GeoJSONExporter struct {
	Origin orb.Point // longitude, latitude
	path   string
	truth  orb.LineString
	est    orb.LineString
	fixes  []*geojson.Feature
}

// NewGeoJSONExporter returns a new GeoJSON exporter writing to path on Close.
func NewGeoJSONExporter(path string, origin orb.Point) (*GeoJSONExporter, error) {
	if lat := origin.Lat(); lat < -90 || lat > 90 {
		return nil, invalidConfig("origin latitude %f out of range", lat)
	}
	return &GeoJSONExporter{Origin: origin, path: path}, nil
}

// Write adds the record to the collection.
func (e *GeoJSONExporter) Write(rec Record) error {
	x, y := rec.Position()
	e.truth = append(e.truth, ENUToGeodetic(e.Origin, rec.Truth.X, rec.Truth.Y))
	e.est = append(e.est, ENUToGeodetic(e.Origin, x, y))
	if rec.GPS != nil {
		f := geojson.NewFeature(ENUToGeodetic(e.Origin, rec.GPS.X, rec.GPS.Y))
		f.Properties["kind"] = "gps"
		f.Properties["tick"] = rec.Tick
		f.Properties["t"] = rec.Time
		f.Properties["nis"] = rec.NIS
		e.fixes = append(e.fixes, f)
	}
	return nil
}

// FeatureCollection returns the features written so far.
func (e *GeoJSONExporter) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	truth := geojson.NewFeature(e.truth)
	truth.Properties["kind"] = "truth"
	fc.Append(truth)
	est := geojson.NewFeature(e.est)
	est.Properties["kind"] = "estimate"
	fc.Append(est)
	for _, f := range e.fixes {
		fc.Append(f)
	}
	return fc
}

// Close writes the feature collection to the file.
func (e *GeoJSONExporter) Close() error {
	data, err := e.FeatureCollection().MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(e.path, data, 0o644)
}
