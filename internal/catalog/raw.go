package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawProduct is the union of the product record shapes emitted by known sources. Every field is
// optional; Normalize decides which combinations form a valid Product.
type RawProduct struct {
	ID          RawID     `json:"id"`
	Title       string    `json:"title"`
	Name        string    `json:"name"`
	Price       RawNumber `json:"price"`
	Description string    `json:"description"`
	Images      []string  `json:"images"`
	Thumbnail   string    `json:"thumbnail"`
	Image       string    `json:"image"`
	Brand       string    `json:"brand"`
	Category    string    `json:"category"`
	Rating      RawNumber `json:"rating"`
	Stock       RawNumber `json:"stock"`
}

// RawID accepts JSON numbers and strings as identifiers.
type RawID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *RawID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RawID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = RawID(n.String())
	return nil
}

// RawNumber accepts JSON numbers and numeric strings. Set reports whether a value was present.
type RawNumber struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *RawNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = RawNumber{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = RawNumber{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		*n = RawNumber{Value: v, Set: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = RawNumber{Value: v, Set: true}
	return nil
}

// DecodeProduct parses a single JSON product record.
func DecodeProduct(data []byte) (RawProduct, error) {
	var raw RawProduct
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawProduct{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return raw, nil
}
