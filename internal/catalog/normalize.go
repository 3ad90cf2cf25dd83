package catalog

import (
	"fmt"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/Arpitray/commerce/internal/domain"
)

var descriptionPolicy = bluemonday.StrictPolicy()

// maxStock keeps the float to int conversion inside the range of a 32-bit int.
const maxStock = math.MaxInt32

// Normalize maps a raw source record onto the internal Product shape. Name falls back from title to
// name; image from the first non-empty images entry to thumbnail to image. Records without an id or
// a name, or carrying a negative or non-finite price, are rejected with ErrMalformedRecord. A rating
// or stock that is negative or not finite reads as zero, and stock is capped at maxStock.
func Normalize(raw RawProduct) (domain.Product, error) {
	id := strings.TrimSpace(string(raw.ID))
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}

	name := cleanText(firstNonEmpty(raw.Title, raw.Name))
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product %s has no title or name", ErrMalformedRecord, id)
	}

	price := 0.0
	if raw.Price.Set {
		price = raw.Price.Value
	}
	if price < 0 || !isFinite(price) {
		return domain.Product{}, fmt.Errorf("%w: product %s has invalid price", ErrMalformedRecord, id)
	}

	rating := 0.0
	if raw.Rating.Set && isFinite(raw.Rating.Value) && raw.Rating.Value > 0 {
		rating = raw.Rating.Value
	}

	stock := 0
	if raw.Stock.Set && isFinite(raw.Stock.Value) && raw.Stock.Value > 0 {
		stock = int(math.Min(raw.Stock.Value, maxStock))
	}

	return domain.Product{
		ID:          domain.ProductID(id),
		Name:        name,
		Price:       price,
		Description: cleanText(descriptionPolicy.Sanitize(raw.Description)),
		Image:       firstNonEmpty(firstImage(raw.Images), raw.Thumbnail, raw.Image),
		Brand:       cleanText(raw.Brand),
		Category:    strings.TrimSpace(raw.Category),
		Rating:      rating,
		Stock:       stock,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func firstImage(images []string) string {
	for _, img := range images {
		if trimmed := strings.TrimSpace(img); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// cleanText composes to NFC and collapses runs of whitespace.
func cleanText(value string) string {
	value = norm.NFC.String(value)
	return strings.Join(strings.Fields(value), " ")
}
