// Package importer loads reference datasets and collected records from CSV
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/normalize"
	"github.com/cadastre-match/internal/validation"
)

// Kind selects what a CSV file holds
type Kind string

const (
	KindReferences Kind = "references"
	KindRecords    Kind = "records"
)

// Writer persists imported rows in batches
type Writer interface {
	UpsertReferences(ctx context.Context, refs []match.ReferenceRecord) error
	UpsertCollectionRecords(ctx context.Context, recs []match.CollectionRecord) error
}

// Stats summarizes one import run
type Stats struct {
	Read     int `json:"read"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer handles importing CSV files
type Importer struct {
	writer    Writer
	parser    normalize.Parser
	sanitizer *validation.Sanitizer
	batchSize int
	logger    *zap.Logger
}

// New creates a CSV importer
func New(writer Writer, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		writer:    writer,
		parser:    normalize.NewParser(),
		sanitizer: validation.NewSanitizer(),
		batchSize: 500,
		logger:    logger,
	}
}

// ImportFile opens a CSV file and imports it
func (im *Importer) ImportFile(ctx context.Context, kind Kind, filename, municipality string) (Stats, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()
	return im.Import(ctx, kind, file, municipality)
}

// Import reads a CSV with a header row. Rows without a municipality column
// value take the given default. Malformed rows are logged and skipped.
func (im *Importer) Import(ctx context.Context, kind Kind, r io.Reader, municipality string) (Stats, error) {
	if kind != KindReferences && kind != KindRecords {
		return Stats{}, fmt.Errorf("unknown import kind %q", kind)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Stats{}, errors.Wrap(err, "read header")
	}
	cols := columnIndex(header)
	if _, ok := cols["id"]; !ok {
		return Stats{}, errors.New("header has no id column")
	}

	var (
		stats Stats
		refs  []match.ReferenceRecord
		recs  []match.CollectionRecord
	)
	flush := func() error {
		switch {
		case len(refs) > 0:
			if err := im.writer.UpsertReferences(ctx, refs); err != nil {
				return err
			}
			stats.Imported += len(refs)
			refs = nil
		case len(recs) > 0:
			if err := im.writer.UpsertCollectionRecords(ctx, recs); err != nil {
				return err
			}
			stats.Imported += len(recs)
			recs = nil
		}
		return nil
	}

	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			im.logger.Warn("Skipping unreadable CSV row", zap.Int("line", line), zap.Error(err))
			stats.Read++
			stats.Skipped++
			continue
		}
		stats.Read++

		values := rowValues{cols: cols, row: row}
		fields, err := im.fields(values)
		if err != nil || values.get("id") == "" {
			if err == nil {
				err = errors.New("missing id")
			}
			im.logger.Warn("Skipping CSV row", zap.Int("line", line), zap.Error(err))
			stats.Skipped++
			continue
		}

		m := values.get("municipality")
		if m == "" {
			m = municipality
		}

		if kind == KindReferences {
			active := true
			if v := values.get("active"); v != "" {
				active, err = strconv.ParseBool(v)
				if err != nil {
					im.logger.Warn("Skipping CSV row", zap.Int("line", line), zap.Error(err))
					stats.Skipped++
					continue
				}
			}
			if m == "" {
				im.logger.Warn("Skipping CSV row", zap.Int("line", line), zap.String("reason", "no municipality"))
				stats.Skipped++
				continue
			}
			refs = append(refs, match.ReferenceRecord{ID: values.get("id"), Municipality: m, Active: active, PropertyFields: fields})
		} else {
			recs = append(recs, match.CollectionRecord{ID: values.get("id"), Municipality: m, Fields: fields})
		}

		if len(refs)+len(recs) >= im.batchSize {
			if err := flush(); err != nil {
				return stats, errors.Wrapf(err, "write batch ending at line %d", line)
			}
		}
	}

	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "write final batch")
	}

	im.logger.Info("Import complete",
		zap.String("kind", string(kind)),
		zap.Int("read", stats.Read),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// fields maps a row onto property fields, parsing a free-text address
// column when the street columns are empty
func (im *Importer) fields(v rowValues) (match.PropertyFields, error) {
	f := match.PropertyFields{
		RegistrationCode: v.get("registration_code"),
		StreetName:       v.get("street_name"),
		StreetNumber:     v.get("street_number"),
		Complement:       v.get("complement"),
		Neighborhood:     v.get("neighborhood"),
		UseCode:          v.get("use_code"),
		OwnerName:        v.get("owner_name"),
		OwnerDocument:    v.get("owner_document"),
	}

	var err error
	if f.LotArea, err = v.float("lot_area"); err != nil {
		return f, err
	}
	if f.BuiltArea, err = v.float("built_area"); err != nil {
		return f, err
	}
	if f.Latitude, err = v.float("latitude"); err != nil {
		return f, err
	}
	if f.Longitude, err = v.float("longitude"); err != nil {
		return f, err
	}
	if s := v.get("floor_count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return f, errors.Wrap(err, "floor_count")
		}
		f.FloorCount = &n
	}

	if addr := v.get("address"); addr != "" && f.StreetName == "" {
		c := im.parser.Parse(addr)
		f.StreetName = c.StreetName
		f.StreetNumber = firstNonEmpty(f.StreetNumber, c.StreetNumber)
		f.Complement = firstNonEmpty(f.Complement, c.Complement)
		f.Neighborhood = firstNonEmpty(f.Neighborhood, c.Neighborhood)
	}

	clean, issues := im.sanitizer.Sanitize(f)
	for _, is := range issues {
		im.logger.Debug("Dropped malformed field", zap.String("id", v.get("id")), zap.String("field", is.Field), zap.String("reason", is.Reason))
	}
	return clean, nil
}

type rowValues struct {
	cols map[string]int
	row  []string
}

func (v rowValues) get(col string) string {
	i, ok := v.cols[col]
	if !ok || i >= len(v.row) {
		return ""
	}
	return strings.TrimSpace(v.row[i])
}

// float accepts both "1234.5" and the Brazilian "1.234,5"
func (v rowValues) float(col string) (*float64, error) {
	s := v.get(col)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Wrap(err, col)
	}
	return &f, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[h] = i
	}
	return cols
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
