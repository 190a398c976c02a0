// Package envelope serialises a batch of records into the XML file format
// agreed with the DRC and parses such files back.
package envelope

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// FormatVersion is written into every header.
const FormatVersion = "5"

const fileTimeLayout = "20060102150405"

var (
	ErrInvalidFileID = errors.New("file id must be positive")
	ErrMalformed     = errors.New("malformed envelope")
)

// Header is the mandatory envelope preamble.
type Header struct {
	FileID        int64     `json:"file_id"`
	FileName      string    `json:"file_name"`
	GeneratedAt   time.Time `json:"generated_at"`
	RecordCount   int       `json:"record_count"`
	FormatVersion string    `json:"format_version"`
}

// Envelope is a built or parsed batch file.
type Envelope struct {
	Category models.Category
	Header   Header
	Records  []models.Record
	Data     []byte
}

// Key is the name the envelope is archived under.
func (e *Envelope) Key() string {
	return e.Header.FileName + ".xml"
}

// RecordError reports the record that stopped an envelope from being built.
type RecordError struct {
	Category models.Category
	RecordID int64
	Err      *models.FieldError
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record %d: %v", e.Category, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// FileName is deterministic for a category and generation time.
func FileName(kind *models.RecordKind, generatedAt time.Time) string {
	return kind.FilePrefix + "_" + generatedAt.UTC().Format(fileTimeLayout)
}

type xmlFile struct {
	XMLName xml.Name
	Header  xmlHeader `xml:"header"`
	List    xmlList   `xml:",any"`
}

type xmlHeader struct {
	ID            int64  `xml:"id,attr"`
	FileName      string `xml:"filename"`
	DateGenerated string `xml:"dateGenerated"`
	RecordCount   int    `xml:"recordCount"`
	FormatVersion string `xml:"formatVersion"`
}

type xmlList struct {
	XMLName xml.Name
	Items   []xmlItem `xml:",any"`
}

type xmlItem struct {
	XMLName xml.Name
	ID      int64      `xml:"id,attr"`
	MaatID  int64      `xml:"maatId,attr"`
	Status  string     `xml:"status,attr,omitempty"`
	Fields  []xmlField `xml:",any"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// Build serialises records in the order given. Every record is validated
// first; the first non-conforming record fails the whole build and no bytes
// are returned. An empty record set yields a header-only envelope.
func Build(kind *models.RecordKind, fileID int64, records []models.Record, generatedAt time.Time) (*Envelope, error) {
	if fileID <= 0 {
		return nil, ErrInvalidFileID
	}

	generatedAt = generatedAt.UTC().Truncate(time.Second)
	items := make([]xmlItem, 0, len(records))
	for _, r := range records {
		if ferr := kind.Validate(r); ferr != nil {
			return nil, &RecordError{Category: kind.Category, RecordID: r.ID, Err: ferr}
		}
		item := xmlItem{
			XMLName: xml.Name{Local: kind.ItemElement},
			ID:      r.ID,
			MaatID:  r.MaatID,
			Status:  r.Status,
		}
		for _, f := range kind.Fields {
			if v, ok := r.Value(f.Name); ok {
				item.Fields = append(item.Fields, xmlField{XMLName: xml.Name{Local: f.Name}, Value: v})
			}
		}
		items = append(items, item)
	}

	header := Header{
		FileID:        fileID,
		FileName:      FileName(kind, generatedAt),
		GeneratedAt:   generatedAt,
		RecordCount:   len(items),
		FormatVersion: FormatVersion,
	}
	doc := xmlFile{
		XMLName: xml.Name{Local: kind.RootElement},
		Header: xmlHeader{
			ID:            header.FileID,
			FileName:      header.FileName,
			DateGenerated: generatedAt.Format(time.RFC3339),
			RecordCount:   header.RecordCount,
			FormatVersion: header.FormatVersion,
		},
		List: xmlList{XMLName: xml.Name{Local: kind.ListElement}, Items: items},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind.Category, err)
	}
	data := make([]byte, 0, len(xml.Header)+len(body)+1)
	data = append(data, xml.Header...)
	data = append(data, body...)
	data = append(data, '\n')

	out := make([]models.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return &Envelope{Category: kind.Category, Header: header, Records: out, Data: data}, nil
}

// Parse decodes an envelope produced by Build. Element names must match the
// kind and the header count must equal the number of records.
func Parse(kind *models.RecordKind, data []byte) (*Envelope, error) {
	var doc xmlFile
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc.XMLName.Local != kind.RootElement {
		return nil, fmt.Errorf("%w: root element %q, want %q", ErrMalformed, doc.XMLName.Local, kind.RootElement)
	}
	if doc.List.XMLName.Local != kind.ListElement {
		return nil, fmt.Errorf("%w: list element %q, want %q", ErrMalformed, doc.List.XMLName.Local, kind.ListElement)
	}
	if doc.Header.RecordCount != len(doc.List.Items) {
		return nil, fmt.Errorf("%w: header counts %d records, found %d", ErrMalformed, doc.Header.RecordCount, len(doc.List.Items))
	}

	generatedAt, err := time.Parse(time.RFC3339, doc.Header.DateGenerated)
	if err != nil {
		return nil, fmt.Errorf("%w: dateGenerated: %w", ErrMalformed, err)
	}

	records := make([]models.Record, 0, len(doc.List.Items))
	for i, item := range doc.List.Items {
		if item.XMLName.Local != kind.ItemElement {
			return nil, fmt.Errorf("%w: item %d is %q, want %q", ErrMalformed, i, item.XMLName.Local, kind.ItemElement)
		}
		r := models.Record{
			Category: kind.Category,
			ID:       item.ID,
			MaatID:   item.MaatID,
			Status:   item.Status,
			Values:   make(map[string]string, len(item.Fields)),
		}
		for _, f := range item.Fields {
			if _, dup := r.Values[f.XMLName.Local]; dup {
				return nil, fmt.Errorf("%w: record %d repeats field %s", ErrMalformed, item.ID, f.XMLName.Local)
			}
			r.Values[f.XMLName.Local] = f.Value
		}
		if ferr := kind.Validate(r); ferr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, &RecordError{Category: kind.Category, RecordID: r.ID, Err: ferr})
		}
		records = append(records, r)
	}

	return &Envelope{
		Category: kind.Category,
		Header: Header{
			FileID:        doc.Header.ID,
			FileName:      doc.Header.FileName,
			GeneratedAt:   generatedAt.UTC(),
			RecordCount:   doc.Header.RecordCount,
			FormatVersion: doc.Header.FormatVersion,
		},
		Records: records,
		Data:    data,
	}, nil
}

// Summary is a short human description of the header, used in logs.
func (h Header) Summary() string {
	return h.FileName + " (" + strconv.Itoa(h.RecordCount) + " records, v" + h.FormatVersion + ")"
}
