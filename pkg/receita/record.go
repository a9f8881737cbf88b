// Package receita decodes the Receita Federal CNPJ extract.
//
// The extract is a fixed-width text file with one record per line. The first
// byte of each line is a tag:
//
//	'0'  header   (file id, generation date)
//	'1'  legal entity record
//	'9'  trailer  (end of stream)
//
// Fields live at fixed byte offsets, so lines are sliced as raw bytes and only
// then transcoded from ISO-8859-1 to UTF-8.
//
// Example Usage:
//
//	f, err := receita.OpenFile("F.K032001K.D90308")
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
//	r := receita.NewReader(f)
//	for r.Next() {
//		line := r.Line()
//		if line.Kind == receita.KindRecord {
//			fmt.Println(line.Record.CNPJ, line.Record.StatusLabel)
//		}
//	}
//	if err := r.Err(); err != nil {
//		return err
//	}
package receita

import (
	"strings"
)

// Kind identifies what a decoded line carries.
type Kind int

const (
	// KindSkip is a line that could not be decoded (unknown tag, too short).
	KindSkip Kind = iota
	// KindHeader is the '0' line with file metadata.
	KindHeader
	// KindRecord is a '1' line with one legal entity.
	KindRecord
	// KindTrailer is the '9' line that terminates the stream.
	KindTrailer
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindRecord:
		return "record"
	case KindTrailer:
		return "trailer"
	default:
		return "skip"
	}
}

// Line is the result of decoding one line of the extract.
//
// Exactly one of Header or Record is set, matching Kind. Skip lines carry the
// reason in Err.
type Line struct {
	Number int
	Kind   Kind
	Header *Header
	Record *Record
	Err    error
}

// Header is the metadata carried by the '0' line.
type Header struct {
	FileID      string
	GeneratedOn string // YYYYMMDD as written in the file
}

// Phone is one area/number pair. Fax numbers use the same shape with Fax set.
type Phone struct {
	Area   string
	Number string
	Fax    bool
}

// String renders the phone as "<area> <number>", omitting an empty half.
// Fax numbers are prefixed with "FAX ".
func (p Phone) String() string {
	var s string
	switch {
	case p.Area == "":
		s = p.Number
	case p.Number == "":
		s = p.Area
	default:
		s = p.Area + " " + p.Number
	}
	if p.Fax {
		return "FAX " + s
	}
	return s
}

// Address is the location block of a record. All fields are always present,
// possibly empty.
type Address struct {
	StreetType       string
	Street           string
	Number           string
	Complement       string
	Neighborhood     string
	PostalCode       string
	State            string
	MunicipalityCode string
	Municipality     string
}

// AddressKey is the natural key of an Address node.
//
// Two addresses with equal keys are the same node; there is no surrogate id.
type AddressKey struct {
	MunicipalityCode string
	Neighborhood     string
	Complement       string
	Number           string
	Street           string
	StreetType       string
}

// Key returns the natural key of the address.
func (a Address) Key() AddressKey {
	return AddressKey{
		MunicipalityCode: a.MunicipalityCode,
		Neighborhood:     a.Neighborhood,
		Complement:       a.Complement,
		Number:           a.Number,
		Street:           a.Street,
		StreetType:       a.StreetType,
	}
}

// Properties returns every address field keyed by its graph property name.
func (a Address) Properties() map[string]any {
	return map[string]any{
		"tipoLogradouro":  a.StreetType,
		"logradouro":      a.Street,
		"numero":          a.Number,
		"complemento":     a.Complement,
		"bairro":          a.Neighborhood,
		"cep":             a.PostalCode,
		"uf":              a.State,
		"codigoMunicipio": a.MunicipalityCode,
		"municipio":       a.Municipality,
	}
}

// Properties returns the key fields keyed by graph property name.
func (k AddressKey) Properties() map[string]any {
	return map[string]any{
		"codigoMunicipio": k.MunicipalityCode,
		"bairro":          k.Neighborhood,
		"complemento":     k.Complement,
		"numero":          k.Number,
		"logradouro":      k.Street,
		"tipoLogradouro":  k.StreetType,
	}
}

func (k AddressKey) String() string {
	return strings.Join([]string{
		k.MunicipalityCode, k.Neighborhood, k.Complement, k.Number, k.Street, k.StreetType,
	}, "|")
}

// Record is one legal entity ('1' line).
//
// Optional fields are empty strings when the extract left them blank; they are
// left out of Properties in that case.
type Record struct {
	CNPJ                string
	CorporateName       string
	TradeName           string
	StatusCode          string
	StatusLabel         string
	StatusDate          string
	LegalNatureCode     string
	ActivityStartDate   string
	PrimaryActivityCode string

	CountryCode      string
	CountryName      string
	ForeignCity      string
	Phones           []Phone
	Email            string
	CompanySizeCode  string
	CompanySizeLabel string
	MEIFlag          string
	SpecialSituation string

	Address Address
}

// Closed reports whether the entity has been closed (status 08, BAIXADA).
func (r *Record) Closed() bool {
	return r.StatusCode == StatusClosed
}

// Properties returns the LegalEntity node properties for the record.
//
// Always-included fields are present even when empty; optional fields only when
// non-empty. The address is not part of the entity; it becomes its own node.
func (r *Record) Properties() map[string]any {
	props := map[string]any{
		"cnpj":                    r.CNPJ,
		"razaoSocial":             r.CorporateName,
		"nomeFantasia":            r.TradeName,
		"codigoSituacaoCadastral": r.StatusCode,
		"situacaoCadastral":       r.StatusLabel,
		"dataSituacaoCadastral":   r.StatusDate,
		"codigoNaturezaJuridica":  r.LegalNatureCode,
		"dataInicioAtividade":     r.ActivityStartDate,
		"cnaePrincipal":           r.PrimaryActivityCode,
	}
	optional := []struct {
		name  string
		value string
	}{
		{"codigoPais", r.CountryCode},
		{"nomePais", r.CountryName},
		{"nomeCidadeExterior", r.ForeignCity},
		{"email", r.Email},
		{"codigoPorteEmpresa", r.CompanySizeCode},
		{"porteEmpresa", r.CompanySizeLabel},
		{"optanteMEI", r.MEIFlag},
		{"situacaoEspecial", r.SpecialSituation},
	}
	for _, f := range optional {
		if f.value != "" {
			props[f.name] = f.value
		}
	}
	if len(r.Phones) > 0 {
		phones := make([]string, 0, len(r.Phones))
		for _, p := range r.Phones {
			phones = append(phones, p.String())
		}
		props["telefones"] = phones
	}
	return props
}
