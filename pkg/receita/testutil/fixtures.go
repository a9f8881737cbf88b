// Package testutil builds fixed-width extract lines for tests.
//
// Tests across the decoder, filter, writer and pipeline packages need realistic
// lines with specific values at specific offsets. RecordLine starts from a
// 1200-byte blank record and lets each test overwrite only what it cares about.
//
// # Usage
//
//	line := testutil.RecordLine().
//		Set(testutil.CNPJ, "12345678000199").
//		Set(testutil.State, "SP").
//		String()
package testutil

import (
	"bytes"
	"strings"
)

// RecordLength is the length of a record line in the real extract.
const RecordLength = 1200

// Field is a (offset, length) slot in the record layout.
type Field struct {
	Off int
	Len int
}

// Record layout slots, mirroring the decoder.
var (
	CNPJ                = Field{3, 14}
	CorporateName       = Field{18, 150}
	TradeName           = Field{168, 55}
	StatusCode          = Field{223, 2}
	StatusDate          = Field{225, 8}
	ForeignCity         = Field{235, 55}
	CountryCode         = Field{290, 3}
	CountryName         = Field{293, 70}
	LegalNatureCode     = Field{363, 4}
	ActivityStartDate   = Field{367, 8}
	PrimaryActivityCode = Field{375, 7}
	StreetType          = Field{382, 20}
	Street              = Field{402, 60}
	Number              = Field{462, 6}
	Complement          = Field{468, 156}
	Neighborhood        = Field{624, 50}
	PostalCode          = Field{674, 8}
	State               = Field{682, 2}
	MunicipalityCode    = Field{684, 4}
	Municipality        = Field{688, 50}
	Phone1Area          = Field{738, 4}
	Phone1Number        = Field{742, 8}
	Phone2Area          = Field{750, 4}
	Phone2Number        = Field{755, 8}
	FaxArea             = Field{762, 4}
	FaxNumber           = Field{766, 8}
	Email               = Field{774, 115}
	CompanySizeCode     = Field{905, 2}
	MEIFlag             = Field{924, 1}
	SpecialSituation    = Field{925, 23}
)

// Builder assembles one fixed-width line.
type Builder struct {
	buf []byte
}

// RecordLine returns a blank '1' record line.
func RecordLine() *Builder {
	b := &Builder{buf: bytes.Repeat([]byte{' '}, RecordLength)}
	b.buf[0] = '1'
	return b
}

// HeaderLine returns a '0' header with the given file id and generation date.
func HeaderLine(fileID, generatedOn string) string {
	b := &Builder{buf: bytes.Repeat([]byte{' '}, RecordLength)}
	b.buf[0] = '0'
	b.Set(Field{17, 11}, fileID)
	b.Set(Field{28, 8}, generatedOn)
	return b.String()
}

// TrailerLine returns a '9' trailer line.
func TrailerLine() string {
	return "9" + strings.Repeat(" ", RecordLength-1)
}

// Set writes value left-aligned into f, truncating and space-padding it.
func (b *Builder) Set(f Field, value string) *Builder {
	slot := b.buf[f.Off : f.Off+f.Len]
	for i := range slot {
		slot[i] = ' '
	}
	copy(slot, value)
	return b
}

// SetRaw writes raw bytes (e.g. ISO-8859-1) into f.
func (b *Builder) SetRaw(f Field, value []byte) *Builder {
	slot := b.buf[f.Off : f.Off+f.Len]
	for i := range slot {
		slot[i] = ' '
	}
	copy(slot, value)
	return b
}

// Truncate cuts the line to n bytes.
func (b *Builder) Truncate(n int) *Builder {
	b.buf = b.buf[:n]
	return b
}

// Bytes returns a copy of the line.
func (b *Builder) Bytes() []byte {
	return append([]byte(nil), b.buf...)
}

func (b *Builder) String() string {
	return string(b.buf)
}

// Entity returns a record line for a typical active company in São Paulo.
// Tests override individual fields as needed.
func Entity(cnpj string) *Builder {
	return RecordLine().
		Set(CNPJ, cnpj).
		Set(CorporateName, "EMPRESA DE TESTE LTDA").
		Set(TradeName, "TESTE").
		Set(StatusCode, "02").
		Set(StatusDate, "20150101").
		Set(LegalNatureCode, "2062").
		Set(ActivityStartDate, "20100315").
		Set(PrimaryActivityCode, "6201501").
		Set(StreetType, "RUA").
		Set(Street, "DAS FLORES").
		Set(Number, "100").
		Set(Neighborhood, "CENTRO").
		Set(PostalCode, "01001000").
		Set(State, "SP").
		Set(MunicipalityCode, "7107").
		Set(Municipality, "SAO PAULO")
}

// File joins lines into an extract with header and trailer.
func File(lines ...string) string {
	all := make([]string, 0, len(lines)+2)
	all = append(all, HeaderLine("F.K032001K", "20190308"))
	all = append(all, lines...)
	all = append(all, TrailerLine())
	return strings.Join(all, "\n") + "\n"
}
