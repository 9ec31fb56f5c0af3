package parser

import (
	"testing"

	"github.com/aluiziolira/go-scrape-cars/models"
)

func TestParseTitle(t *testing.T) {
	tests := []struct {
		title     string
		wantBrand string
		wantModel string
	}{
		{title: "Škoda Octavia 2.0 TDI", wantBrand: "Skoda", wantModel: "Octavia"},
		{title: "VW Golf 7 Highline", wantBrand: "Volkswagen", wantModel: "Golf"},
		{title: "Mercedes-Benz E 220 d", wantBrand: "Mercedes-benz", wantModel: "E"},
		{title: "Toyota Land Cruiser", wantBrand: "Toyota", wantModel: "Land cruiser"},
		{title: "Skoda 1203", wantBrand: "Skoda", wantModel: ""},
		{title: "Tesla Model 3", wantBrand: "", wantModel: ""},
		{title: "Octavia Combi, heated seats", wantBrand: "", wantModel: ""},
		{title: "Seat Leon FR", wantBrand: "Seat", wantModel: "Leon"},
		{title: "", wantBrand: "", wantModel: ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			brand, model := ParseTitle(tt.title)
			if brand != tt.wantBrand || model != tt.wantModel {
				t.Errorf("ParseTitle(%q) = %q, %q; want %q, %q", tt.title, brand, model, tt.wantBrand, tt.wantModel)
			}
		})
	}
}

func TestParseRegion(t *testing.T) {
	tests := map[string]string{
		"Žilina":                "Žilinský",
		"Bratislava - Petržalka": "Bratislavský",
		"Senec":                 "Bratislavský",
		"Banská Bystrica":       "Banskobystrický",
		"Košice":                "Košický",
		"Trenčín":               "Trenčiansky",
		"Praha":                 "",
		"":                      "",
	}
	for input, want := range tests {
		if got := ParseRegion(input); got != want {
			t.Errorf("ParseRegion(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseFuelAndTransmission(t *testing.T) {
	tests := []struct {
		text         string
		fuel         string
		transmission string
	}{
		{text: "Octavia 2.0 TDI DSG", fuel: "Diesel", transmission: "Automatic"},
		{text: "Fabia 1.0 TSI benzín, manuál", fuel: "Petrol", transmission: "Manual"},
		{text: "Elektromobil, automatická prevodovka", fuel: "Electric", transmission: "Automatic"},
		{text: "Toyota Yaris Hybrid CVT", fuel: "Hybrid", transmission: "Automatic"},
		{text: "pekné auto", fuel: "", transmission: ""},
	}

	for _, tt := range tests {
		if got := ParseFuelType(tt.text); got != tt.fuel {
			t.Errorf("ParseFuelType(%q) = %q, want %q", tt.text, got, tt.fuel)
		}
		if got := ParseTransmission(tt.text); got != tt.transmission {
			t.Errorf("ParseTransmission(%q) = %q, want %q", tt.text, got, tt.transmission)
		}
	}
}

func TestIsDenylisted(t *testing.T) {
	if !IsDenylisted("Octavia 1.6", "AAA AUTO Bratislava") {
		t.Fatalf("dealer name should be denylisted")
	}
	if !IsDenylisted("AAAAuto.sk akcia") {
		t.Fatalf("glued dealer name should be denylisted")
	}
	if IsDenylisted("Auto Moto Senec", "") {
		t.Fatalf("unrelated seller flagged")
	}
	if IsDenylisted("Predajca BAAA AUTOMOBILY") {
		t.Fatalf("dealer fragment inside another word flagged")
	}
	if IsDenylisted() {
		t.Fatalf("no texts should not be denylisted")
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text, key string
		want      bool
	}{
		{"seat leon", "seat", true},
		{"heated seats", "seat", false},
		{"seats and seat", "seat", true},
		{"aaaauto.sk akcia", "aaaauto", true},
		{"mercedes-benz e", "mercedes-benz", true},
		{"land cruisers", "land cruiser", false},
		{"unblocked", "blocked", false},
		{"", "seat", false},
	}
	for _, tt := range tests {
		if got := containsWord(tt.text, tt.key); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", tt.text, tt.key, got, tt.want)
		}
	}
}

func TestEnrich(t *testing.T) {
	l := &models.Listing{
		Title:       "Škoda Octavia 1.6 TDI 2016",
		Description: "najazdené 145 000 km, manuál",
		Location:    "Nitra",
	}
	Enrich(l)

	if l.Brand != "Skoda" || l.Model != "Octavia" {
		t.Fatalf("brand/model = %q/%q", l.Brand, l.Model)
	}
	if l.Region != "Nitriansky" {
		t.Fatalf("region = %q", l.Region)
	}
	if l.FuelType != "Diesel" || l.Transmission != "Manual" {
		t.Fatalf("fuel/transmission = %q/%q", l.FuelType, l.Transmission)
	}
	if l.Mileage != 145000 || l.Year != 2016 {
		t.Fatalf("mileage/year = %d/%d", l.Mileage, l.Year)
	}
}

func TestEnrichKeepsAdapterValues(t *testing.T) {
	l := &models.Listing{
		Title:   "Audi A4 Avant 2012",
		Brand:   "Audi",
		Model:   "A4 Avant",
		Mileage: 210000,
		Year:    2011,
	}
	Enrich(l)
	if l.Model != "A4 Avant" || l.Mileage != 210000 || l.Year != 2011 {
		t.Fatalf("adapter values overwritten: %+v", l)
	}
	if l.Region != "" {
		t.Fatalf("region should stay empty without a location, got %q", l.Region)
	}
	Enrich(nil)
}

func TestQuerySlugs(t *testing.T) {
	tests := []struct {
		query, brand, model string
	}{
		{"octavia", "skoda", "octavia"},
		{"Škoda Octavia", "skoda", "octavia"},
		{"vw passat", "volkswagen", "passat"},
		{"toyota land cruiser", "toyota", "land-cruiser"},
		{"skoda", "skoda", ""},
		{"Tesla Model 3", "", "tesla-model-3"},
		{"  ", "", ""},
	}
	for _, tt := range tests {
		brand, model := QuerySlugs(tt.query)
		if brand != tt.brand || model != tt.model {
			t.Fatalf("QuerySlugs(%q) = %q/%q, want %q/%q", tt.query, brand, model, tt.brand, tt.model)
		}
	}
}
