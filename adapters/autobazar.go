package adapters

import (
	"context"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-cars/models"
	"github.com/aluiziolira/go-scrape-cars/parser"
)

const autobazarBase = "https://www.autobazar.eu"

// Autobazar scrapes autobazar.eu. Its markup changes often, so every field
// has a list of fallback selectors.
type Autobazar struct {
	catalog
}

// NewAutobazar builds the autobazar adapter.
func NewAutobazar(t Transporter, opts Options) *Autobazar {
	a := &Autobazar{catalog: newCatalog("autobazar", autobazarBase, t, opts)}
	a.price = parser.ExtractPriceLoose
	a.extract = a.parse
	return a
}

// SearchURL builds the result page URL. The query is resolved to a
// brand/model path such as /skoda/octavia/.
func (a *Autobazar) SearchURL(query string, minPrice, maxPrice int) string {
	return a.opts.BaseURL + catalogPath(query) + "/?" + priceParams(minPrice, maxPrice).Encode()
}

// FetchListings implements Adapter.
func (a *Autobazar) FetchListings(ctx context.Context, query string, minPrice, maxPrice int) ([]*models.Listing, error) {
	return a.collect(ctx, a.SearchURL(query, minPrice, maxPrice))
}

func (a *Autobazar) parse(doc *goquery.Selection) []entry {
	items := findItems(doc,
		"div.listing-item, div.car-item, article.listing, div.offer-item",
		"div[class*='car'], div[class*='offer'], div[class*='listing']",
	)
	var out []entry
	items.Each(func(_ int, item *goquery.Selection) {
		out = append(out, entry{
			Title:       firstText(item, "h2 a, h3 a, .title a, .name a, a.title", "h2, h3, .title, .name"),
			Href:        firstAttr(item, "a", "href"),
			Description: firstText(item, ".description, .desc, .text, p", "div[class*='desc'], div[class*='text']"),
			Price:       firstText(item, ".price, .cena, .cost, b.price, span.price", "div[class*='price'], span[class*='price']"),
			Location:    firstText(item, ".location, .lokalita, .locality"),
			Seller:      firstText(item, ".seller, .dealer, .predajca"),
			ImageURL:    firstAttr(item, "img", "data-src", "src"),
		})
	})
	return out
}

// catalogPath maps a query to "/brand/model" path segments.
func catalogPath(query string) string {
	brand, model := parser.QuerySlugs(query)
	path := ""
	if brand != "" {
		path += "/" + url.PathEscape(brand)
	}
	if model != "" {
		path += "/" + url.PathEscape(model)
	}
	return path
}

func priceParams(minPrice, maxPrice int) url.Values {
	params := url.Values{}
	params.Set("cena-od", strconv.Itoa(minPrice))
	if maxPrice > 0 {
		params.Set("cena-do", strconv.Itoa(maxPrice))
	}
	return params
}
