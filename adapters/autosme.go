package adapters

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-cars/models"
	"github.com/aluiziolira/go-scrape-cars/parser"
)

const autosmeBase = "https://auto.sme.sk"

// Autosme scrapes auto.sme.sk. It ships disabled in the default source table.
type Autosme struct {
	catalog
}

// NewAutosme builds the autosme adapter.
func NewAutosme(t Transporter, opts Options) *Autosme {
	a := &Autosme{catalog: newCatalog("autosme", autosmeBase, t, opts)}
	a.price = parser.ExtractPriceLoose
	a.extract = a.parse
	return a
}

// SearchURL builds the result page URL.
func (a *Autosme) SearchURL(query string, minPrice, maxPrice int) string {
	return a.opts.BaseURL + "/inzerat/auta" + catalogPath(query) + "?" + priceParams(minPrice, maxPrice).Encode()
}

// FetchListings implements Adapter.
func (a *Autosme) FetchListings(ctx context.Context, query string, minPrice, maxPrice int) ([]*models.Listing, error) {
	return a.collect(ctx, a.SearchURL(query, minPrice, maxPrice))
}

func (a *Autosme) parse(doc *goquery.Selection) []entry {
	items := findItems(doc,
		"article.ad, div.advertisement, .ad-item, .listing-item",
		"div[class*='ad'], div[class*='listing'], article[class*='ad']",
	)
	var out []entry
	items.Each(func(_ int, item *goquery.Selection) {
		out = append(out, entry{
			Title:       firstText(item, "h2 a, h3 a, .title a, .ad-title a", "h2, h3, .title, .ad-title"),
			Href:        firstAttr(item, "a", "href"),
			Description: firstText(item, ".description, .desc, .text, .ad-description", "p, div[class*='desc']"),
			Price:       firstText(item, ".price, .cena, .cost, .ad-price", "span[class*='price'], div[class*='price']"),
			Location:    firstText(item, ".location, .ad-location, .lokalita"),
			Seller:      firstText(item, ".seller, .ad-seller, .dealer"),
			ImageURL:    firstAttr(item, "img", "data-src", "src"),
		})
	})
	return out
}
