package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/aluiziolira/go-scrape-cars/models"
)

type brandEntry struct {
	key    string
	name   string
	models []string
}

// brandTable is scanned in order; the first brand key found as a whole word in
// a title wins.
var brandTable = []brandEntry{
	{key: "skoda", name: "Skoda", models: []string{"octavia", "fabia", "superb", "kodiaq", "karoq", "scala", "kamiq", "rapid", "yeti", "citigo", "felicia"}},
	{key: "volkswagen", name: "Volkswagen", models: vwModels},
	{key: "vw", name: "Volkswagen", models: vwModels},
	{key: "bmw", name: "Bmw", models: []string{"320", "330", "520", "530", "x5", "x3", "x1", "x6", "x7", "i3", "i8", "z4"}},
	{key: "audi", name: "Audi", models: []string{"a3", "a4", "a6", "q7", "q5", "q3", "a5", "a8", "q8", "tt", "a7"}},
	{key: "mercedes-benz", name: "Mercedes-benz", models: mercedesModels},
	{key: "mercedes", name: "Mercedes", models: mercedesModels},
	{key: "ford", name: "Ford", models: []string{"focus", "mondeo", "fiesta", "kuga", "s-max", "c-max", "ranger", "mustang"}},
	{key: "toyota", name: "Toyota", models: []string{"corolla", "yaris", "rav4", "camry", "c-hr", "auris", "avensis", "land cruiser", "hilux"}},
	{key: "hyundai", name: "Hyundai", models: []string{"i30", "tucson", "santa fe", "i20", "i40", "kona", "ioniq"}},
	{key: "kia", name: "Kia", models: []string{"ceed", "sportage", "sorento", "rio", "stonic"}},
	{key: "renault", name: "Renault", models: []string{"clio", "megane", "captur", "kadjar", "scenic", "talisman", "zoe"}},
	{key: "peugeot", name: "Peugeot", models: []string{"208", "308", "2008", "3008", "5008", "508"}},
	{key: "opel", name: "Opel", models: []string{"astra", "corsa", "insignia", "mokka", "grandland", "crossland"}},
	{key: "dacia", name: "Dacia", models: []string{"duster", "sandero", "logan", "jogger", "lodgy"}},
	{key: "fiat", name: "Fiat", models: []string{"500", "tipo", "panda", "ducato", "punto"}},
	{key: "seat", name: "Seat", models: []string{"leon", "ibiza", "ateca", "arona", "tarraco", "alhambra"}},
}

var (
	vwModels       = []string{"golf", "passat", "tiguan", "touareg", "polo", "touran", "arteon", "up", "transporter", "multivan", "sharan", "caddy"}
	mercedesModels = []string{"gle", "glc", "gla", "cls", "c", "e", "s", "a", "b", "g", "v"}
)

type keywordEntry struct {
	key   string
	value string
}

// regionTable maps locality fragments to the administrative region.
var regionTable = []keywordEntry{
	{"bratislav", "Bratislavský"},
	{"trnav", "Trnavský"},
	{"trenc", "Trenčiansky"},
	{"nitr", "Nitriansky"},
	{"zilin", "Žilinský"},
	{"bansk", "Banskobystrický"},
	{"presov", "Prešovský"},
	{"kosic", "Košický"},
	{"senec", "Bratislavský"},
	{"pezinok", "Bratislavský"},
	{"malacky", "Bratislavský"},
	{"galanta", "Trnavský"},
	{"dunajska", "Trnavský"},
	{"piestany", "Trnavský"},
	{"poprad", "Prešovský"},
	{"martin", "Žilinský"},
	{"michalovce", "Košický"},
	{"zvolen", "Banskobystrický"},
}

var fuelTable = []keywordEntry{
	{"hybrid", "Hybrid"},
	{"plug-in", "Hybrid"},
	{"elektro", "Electric"},
	{"electric", "Electric"},
	{"lpg", "LPG"},
	{"cng", "CNG"},
	{"g-tec", "CNG"},
	{"tdci", "Diesel"},
	{"tdi", "Diesel"},
	{"crdi", "Diesel"},
	{"hdi", "Diesel"},
	{"dci", "Diesel"},
	{"cdi", "Diesel"},
	{"diesel", "Diesel"},
	{"nafta", "Diesel"},
	{"tfsi", "Petrol"},
	{"tsi", "Petrol"},
	{"mpi", "Petrol"},
	{"fsi", "Petrol"},
	{"benzin", "Petrol"},
	{"petrol", "Petrol"},
}

var transmissionTable = []keywordEntry{
	{"dsg", "Automatic"},
	{"automat", "Automatic"},
	{"tiptronic", "Automatic"},
	{"s tronic", "Automatic"},
	{"cvt", "Automatic"},
	{"manual", "Manual"},
	{"6st", "Manual"},
	{"5st", "Manual"},
}

// denylist holds fragments of excluded dealer names.
var denylist = []string{"aaa auto", "aaaauto", "automoto aaa"}

// fold lowercases text and strips diacritics so "Škoda Žilina" matches "skoda zilina".
func fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.ToLower(out)
}

// tokens splits folded text on anything that is not a letter, digit or dash.
func tokens(folded string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		set[tok] = struct{}{}
	}
	return set
}

// ParseTitle returns brand and model recognised in a listing title. Either
// value is empty when the tables have no match.
func ParseTitle(title string) (brand, model string) {
	folded := fold(title)
	if folded == "" {
		return "", ""
	}
	words := tokens(folded)
	for _, entry := range brandTable {
		if !containsWord(folded, entry.key) {
			continue
		}
		for _, m := range entry.models {
			if matchModel(folded, words, m) {
				return entry.name, capitalize(m)
			}
		}
		return entry.name, ""
	}
	return "", ""
}

func matchModel(folded string, words map[string]struct{}, model string) bool {
	if strings.Contains(model, " ") {
		return containsWord(folded, model)
	}
	_, ok := words[model]
	return ok
}

// QuerySlugs resolves a free-text search query into lower-case brand and
// model path segments. A bare model name resolves its owning brand; an
// unknown query is returned slugified as the model with an empty brand.
func QuerySlugs(query string) (brand, model string) {
	folded := strings.TrimSpace(fold(query))
	if folded == "" {
		return "", ""
	}
	words := tokens(folded)
	for _, entry := range brandTable {
		hasBrand := containsWord(folded, entry.key)
		for _, m := range entry.models {
			if len(m) > 1 && matchModel(folded, words, m) {
				return slug(entry.name), slug(m)
			}
		}
		if hasBrand {
			return slug(entry.name), ""
		}
	}
	return "", slug(folded)
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// ParseRegion maps a free-text locality to its region, or "" when unknown.
func ParseRegion(location string) string {
	return lookup(regionTable, fold(location))
}

// ParseFuelType recognises the fuel type from engine keywords.
func ParseFuelType(text string) string {
	return lookupWord(fuelTable, fold(text))
}

// ParseTransmission recognises the gearbox type.
func ParseTransmission(text string) string {
	return lookupWord(transmissionTable, fold(text))
}

// IsDenylisted reports whether any of the texts names an excluded seller.
func IsDenylisted(texts ...string) bool {
	for _, text := range texts {
		if text == "" {
			continue
		}
		folded := fold(text)
		for _, item := range denylist {
			if containsWord(folded, item) {
				return true
			}
		}
	}
	return false
}

// Enrich fills structured fields that are still empty using the lookup tables.
func Enrich(l *models.Listing) {
	if l == nil {
		return
	}
	text := l.Title + " " + l.Description
	if l.Brand == "" {
		brand, model := ParseTitle(l.Title)
		l.Brand = brand
		if l.Model == "" {
			l.Model = model
		}
	}
	if l.Region == "" && l.Location != "" {
		l.Region = ParseRegion(l.Location)
	}
	if l.FuelType == "" {
		l.FuelType = ParseFuelType(text)
	}
	if l.Transmission == "" {
		l.Transmission = ParseTransmission(text)
	}
	if l.Mileage == 0 {
		l.Mileage = ExtractMileage(text)
	}
	if l.Year == 0 {
		l.Year = ExtractYear(text)
	}
}

func lookup(table []keywordEntry, folded string) string {
	if folded == "" {
		return ""
	}
	for _, entry := range table {
		if strings.Contains(folded, entry.key) {
			return entry.value
		}
	}
	return ""
}

func lookupWord(table []keywordEntry, folded string) string {
	if folded == "" {
		return ""
	}
	words := tokens(folded)
	for _, entry := range table {
		if strings.Contains(entry.key, " ") {
			if containsWord(folded, entry.key) {
				return entry.value
			}
			continue
		}
		if _, ok := words[entry.key]; ok {
			return entry.value
		}
		for w := range words {
			if strings.HasPrefix(w, entry.key) && len(entry.key) >= 5 {
				return entry.value
			}
		}
	}
	return ""
}

// containsWord reports whether key occurs in text with no letter or digit
// directly before or after it.
func containsWord(text, key string) bool {
	if key == "" {
		return false
	}
	for offset := 0; offset <= len(text)-len(key); {
		i := strings.Index(text[offset:], key)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(key)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
