package domain

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// GeocodeResult is a structured reverse-geocoding answer.
type GeocodeResult struct {
	FormattedAddress string     `json:"formattedAddress"`
	StreetAddress    string     `json:"streetAddress,omitempty"`
	Locality         string     `json:"locality,omitempty"`
	AdminArea        string     `json:"adminArea,omitempty"`
	PostalCode       string     `json:"postalCode,omitempty"`
	Country          string     `json:"country,omitempty"`
	Confidence       Confidence `json:"confidence"`
}
