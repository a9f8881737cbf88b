package receita

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Line tags.
const (
	TagHeader  = '0'
	TagRecord  = '1'
	TagTrailer = '9'
)

// Minimum line lengths. A record must reach the end of the municipality
// field, the last field that is always included; later optional fields decode
// as empty on shorter lines.
const (
	MinHeaderLength = 36
	MinRecordLength = 738
)

// Common decode errors
var (
	ErrUnknownTag  = errors.New("unknown line tag")
	ErrShortLine   = errors.New("line shorter than record layout")
	ErrEmptyLine   = errors.New("empty line")
	ErrLineTooLong = errors.New("line longer than read limit")
)

// ParseError describes a line that was skipped.
type ParseError struct {
	Line   int
	Reason error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("line %d: %v (%s)", e.Line, e.Reason, e.Detail)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Reason }

// span is a half-open byte range [off, off+n).
type span struct {
	off int
	n   int
}

// Header layout.
var (
	spanFileID      = span{17, 11}
	spanGeneratedOn = span{28, 8}
)

// Record layout. Offsets are 0-indexed byte positions.
var (
	spanCNPJ                = span{3, 14}
	spanCorporateName       = span{18, 150}
	spanTradeName           = span{168, 55}
	spanStatusCode          = span{223, 2}
	spanStatusDate          = span{225, 8}
	spanForeignCity         = span{235, 55}
	spanCountryCode         = span{290, 3}
	spanCountryName         = span{293, 70}
	spanLegalNatureCode     = span{363, 4}
	spanActivityStartDate   = span{367, 8}
	spanPrimaryActivityCode = span{375, 7}

	spanStreetType       = span{382, 20}
	spanStreet           = span{402, 60}
	spanNumber           = span{462, 6}
	spanComplement       = span{468, 156}
	spanNeighborhood     = span{624, 50}
	spanPostalCode       = span{674, 8}
	spanState            = span{682, 2}
	spanMunicipalityCode = span{684, 4}
	spanMunicipality     = span{688, 50}

	spanPhone1Area   = span{738, 4}
	spanPhone1Number = span{742, 8}
	spanPhone2Area   = span{750, 4}
	spanPhone2Number = span{755, 8}
	spanFaxArea      = span{762, 4}
	spanFaxNumber    = span{766, 8}

	spanEmail            = span{774, 115}
	spanCompanySizeCode  = span{905, 2}
	spanMEIFlag          = span{924, 1}
	spanSpecialSituation = span{925, 23}
)

// Decode turns one raw line into a header, record, trailer or skip.
//
// lineNo is the 1-based position of the line in the stream and is only used
// for error reporting. Decode never fails hard: anything it cannot read comes
// back as KindSkip with a *ParseError.
func Decode(line []byte, lineNo int) Line {
	line = trimEOL(line)
	if len(line) == 0 {
		return skip(lineNo, ErrEmptyLine, "")
	}

	switch line[0] {
	case TagHeader:
		if len(line) < MinHeaderLength {
			return skip(lineNo, ErrShortLine, fmt.Sprintf("header has %d bytes, need %d", len(line), MinHeaderLength))
		}
		return Line{
			Number: lineNo,
			Kind:   KindHeader,
			Header: &Header{
				FileID:      field(line, spanFileID),
				GeneratedOn: field(line, spanGeneratedOn),
			},
		}
	case TagRecord:
		if len(line) < MinRecordLength {
			return skip(lineNo, ErrShortLine, fmt.Sprintf("record has %d bytes, need %d", len(line), MinRecordLength))
		}
		return Line{Number: lineNo, Kind: KindRecord, Record: decodeRecord(line)}
	case TagTrailer:
		return Line{Number: lineNo, Kind: KindTrailer}
	default:
		return skip(lineNo, ErrUnknownTag, fmt.Sprintf("tag %q", line[0]))
	}
}

func skip(lineNo int, reason error, detail string) Line {
	return Line{
		Number: lineNo,
		Kind:   KindSkip,
		Err:    &ParseError{Line: lineNo, Reason: reason, Detail: detail},
	}
}

func decodeRecord(line []byte) *Record {
	rec := &Record{
		CNPJ:                field(line, spanCNPJ),
		CorporateName:       field(line, spanCorporateName),
		TradeName:           field(line, spanTradeName),
		StatusCode:          field(line, spanStatusCode),
		StatusDate:          field(line, spanStatusDate),
		ForeignCity:         field(line, spanForeignCity),
		CountryCode:         field(line, spanCountryCode),
		CountryName:         field(line, spanCountryName),
		LegalNatureCode:     field(line, spanLegalNatureCode),
		ActivityStartDate:   field(line, spanActivityStartDate),
		PrimaryActivityCode: field(line, spanPrimaryActivityCode),
		Email:               field(line, spanEmail),
		CompanySizeCode:     field(line, spanCompanySizeCode),
		MEIFlag:             field(line, spanMEIFlag),
		SpecialSituation:    field(line, spanSpecialSituation),
		Address: Address{
			StreetType:       field(line, spanStreetType),
			Street:           field(line, spanStreet),
			Number:           field(line, spanNumber),
			Complement:       field(line, spanComplement),
			Neighborhood:     field(line, spanNeighborhood),
			PostalCode:       field(line, spanPostalCode),
			State:            field(line, spanState),
			MunicipalityCode: field(line, spanMunicipalityCode),
			Municipality:     field(line, spanMunicipality),
		},
	}
	rec.StatusLabel = StatusLabel(rec.StatusCode)
	rec.CompanySizeLabel = CompanySizeLabel(rec.CompanySizeCode)

	pairs := []struct {
		area, number span
		fax          bool
	}{
		{spanPhone1Area, spanPhone1Number, false},
		{spanPhone2Area, spanPhone2Number, false},
		{spanFaxArea, spanFaxNumber, true},
	}
	for _, p := range pairs {
		phone := Phone{Area: field(line, p.area), Number: field(line, p.number), Fax: p.fax}
		if phone.Area != "" || phone.Number != "" {
			rec.Phones = append(rec.Phones, phone)
		}
	}
	return rec
}

// field extracts a span, clipped to the line, transcodes it from ISO-8859-1
// and trims surrounding whitespace.
func field(line []byte, s span) string {
	if s.off >= len(line) {
		return ""
	}
	end := s.off + s.n
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(latin1(line[s.off:end]))
}

func latin1(raw []byte) string {
	ascii := true
	for _, b := range raw {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(raw)
	}
	var sb strings.Builder
	sb.Grow(len(raw) + len(raw)/2)
	for _, b := range raw {
		sb.WriteRune(charmap.ISO8859_1.DecodeByte(b))
	}
	return sb.String()
}

func trimEOL(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
