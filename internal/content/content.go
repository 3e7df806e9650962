// Package content holds the read-only catalog, dashboard and report data
// served by the HTTP API. Everything is loaded once from embedded JSON and
// never modified afterwards.
package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/health-companion/server/internal/jsonx"
)

//go:embed data/*.json
var dataFS embed.FS

var ErrProductNotFound = errors.New("product not found")

type DeliveryInfo struct {
	EstimatedTime string `json:"estimatedTime"`
	ShippingFee   int    `json:"shippingFee"`
}

type Product struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Price         int          `json:"price"`
	OriginalPrice int          `json:"originalPrice"`
	Tags          []string     `json:"tags"`
	Images        []string     `json:"images"`
	Description   string       `json:"description"`
	DeliveryInfo  DeliveryInfo `json:"deliveryInfo"`
}

type Recommendation struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Price int    `json:"price"`
	Image string `json:"image"`
}

type Weather struct {
	Icon string `json:"icon"`
	Desc string `json:"desc"`
	Temp string `json:"temp"`
}

type Welcome struct {
	Greeting string  `json:"greeting"`
	Date     string  `json:"date"`
	Weather  Weather `json:"weather"`
}

type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

type Device struct {
	ID         int    `json:"id"`
	Icon       string `json:"icon"`
	IconColor  string `json:"iconColor"`
	BgGradient string `json:"bgGradient"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Badge      Badge  `json:"badge"`
}

// Metric is one vital sign on the dashboard. Value is a number or a
// preformatted string depending on the metric.
type Metric struct {
	Value   any    `json:"value"`
	Unit    string `json:"unit,omitempty"`
	Range   string `json:"range"`
	Percent int    `json:"percent"`
}

type HealthStatus struct {
	StatusText    string `json:"statusText"`
	HeartRate     Metric `json:"heartRate"`
	BloodPressure Metric `json:"bloodPressure"`
	Temperature   Metric `json:"temperature"`
	Sleep         Metric `json:"sleep"`
}

type NewsItem struct {
	Img   string   `json:"img"`
	Title string   `json:"title"`
	Desc  string   `json:"desc"`
	Tags  []string `json:"tags"`
	Time  string   `json:"time"`
}

// Criteria is the request body posted for a health report. It does not
// influence the result.
type Criteria map[string]any

// Store serves the embedded content. It is safe for concurrent use.
type Store struct {
	products        map[string]Product
	recommendations []Recommendation
	welcome         Welcome
	devices         []Device
	healthStatus    HealthStatus
	news            []NewsItem
	westernReport   json.RawMessage
	tcmReport       json.RawMessage
}

// Load decodes every embedded data file.
func Load() (*Store, error) {
	s := &Store{}
	files := []struct {
		name string
		dst  any
	}{
		{"products.json", &s.products},
		{"recommendations.json", &s.recommendations},
		{"welcome.json", &s.welcome},
		{"devices.json", &s.devices},
		{"health_status.json", &s.healthStatus},
		{"news.json", &s.news},
	}
	for _, f := range files {
		if err := decodeFile(f.name, f.dst); err != nil {
			return nil, err
		}
	}

	var err error
	if s.westernReport, err = rawFile("western_report.json"); err != nil {
		return nil, err
	}
	if s.tcmReport, err = rawFile("tcm_report.json"); err != nil {
		return nil, err
	}
	return s, nil
}

// MustLoad is Load for program startup; embedded data that does not decode
// is a build defect.
func MustLoad() *Store {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

func decodeFile(name string, dst any) error {
	data, err := dataFS.ReadFile("data/" + name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := jsonx.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

func rawFile(name string) (json.RawMessage, error) {
	data, err := dataFS.ReadFile("data/" + name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if !jsonx.Valid(data) {
		return nil, fmt.Errorf("decoding %s: invalid JSON", name)
	}
	return json.RawMessage(data), nil
}

// Product looks up a product by its id.
func (s *Store) Product(id string) (Product, error) {
	p, ok := s.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %q", ErrProductNotFound, id)
	}
	return p, nil
}


func (s *Store) Recommendations() []Recommendation {
	return append([]Recommendation(nil), s.recommendations...)
}

func (s *Store) Welcome() Welcome { return s.welcome }

func (s *Store) Devices() []Device {
	return append([]Device(nil), s.devices...)
}

func (s *Store) HealthStatus() HealthStatus { return s.healthStatus }

func (s *Store) News() []NewsItem {
	return append([]NewsItem(nil), s.news...)
}

// WesternReport returns the western-medicine health report document.
func (s *Store) WesternReport(Criteria) json.RawMessage {
	return append(json.RawMessage(nil), s.westernReport...)
}

// TCMReport returns the traditional Chinese medicine report document.
func (s *Store) TCMReport(Criteria) json.RawMessage {
	return append(json.RawMessage(nil), s.tcmReport...)
}
