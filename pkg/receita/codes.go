package receita

import "fmt"

// Registration status codes (situação cadastral).
const (
	StatusNull      = "01"
	StatusActive    = "02"
	StatusSuspended = "03"
	StatusUnfit     = "04"
	StatusClosed    = "08"
)

var statusLabels = map[string]string{
	StatusNull:      "NULA",
	StatusActive:    "ATIVA",
	StatusSuspended: "SUSPENSA",
	StatusUnfit:     "INAPTA",
	StatusClosed:    "BAIXADA",
}

var companySizeLabels = map[string]string{
	"00": "NAO INFORMADO",
	"01": "MICRO EMPRESA",
	"03": "EMPRESA DE PEQUENO PORTE",
	"05": "DEMAIS",
}

// UnknownCodeLabel is the label used for codes with no known translation.
func UnknownCodeLabel(code string) string {
	return fmt.Sprintf("<CODIGO NAO IDENTIFICADO: %s>", code)
}

// StatusLabel translates a registration status code to its label.
func StatusLabel(code string) string {
	if label, ok := statusLabels[code]; ok {
		return label
	}
	return UnknownCodeLabel(code)
}

// CompanySizeLabel translates a company size code (porte) to its label.
func CompanySizeLabel(code string) string {
	if label, ok := companySizeLabels[code]; ok {
		return label
	}
	return UnknownCodeLabel(code)
}
