package adapters

import (
	"context"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-cars/models"
)

const bazosBase = "https://auto.bazos.sk"

// Bazos scrapes the auto.bazos.sk classifieds board.
type Bazos struct {
	catalog
}

// NewBazos builds the bazos adapter.
func NewBazos(t Transporter, opts Options) *Bazos {
	b := &Bazos{catalog: newCatalog("bazos", bazosBase, t, opts)}
	b.extract = b.parse
	return b
}

// SearchURL builds the result page URL for a query and price band.
func (b *Bazos) SearchURL(query string, minPrice, maxPrice int) string {
	params := url.Values{}
	params.Set("hledat", query)
	params.Set("rubriky", "auto")
	params.Set("hlokalita", "")
	params.Set("humkreis", "25")
	params.Set("cenaod", strconv.Itoa(minPrice))
	if maxPrice > 0 {
		params.Set("cenado", strconv.Itoa(maxPrice))
	} else {
		params.Set("cenado", "")
	}
	params.Set("order", "1")
	return b.opts.BaseURL + "/?" + params.Encode()
}

// FetchListings implements Adapter.
func (b *Bazos) FetchListings(ctx context.Context, query string, minPrice, maxPrice int) ([]*models.Listing, error) {
	return b.collect(ctx, b.SearchURL(query, minPrice, maxPrice))
}

func (b *Bazos) parse(doc *goquery.Selection) []entry {
	var out []entry
	doc.Find("div.inzeraty").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("h2.nadpis a").First()
		href, _ := link.Attr("href")
		out = append(out, entry{
			Title:       link.Text(),
			Href:        href,
			Description: firstText(item, "div.popis"),
			Price:       firstText(item, "div.inzeratycena b", "div.inzeratycena"),
			Location:    firstText(item, "div.inzeratylok"),
			ImageURL:    firstAttr(item, "img.obrazek", "src"),
		})
	})
	return out
}
