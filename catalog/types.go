// Package catalog exposes the product resource of the remote service
// through the query cache: cached reads, and writes that keep list and
// single-product entries consistent.
package catalog

import (
	"encoding/json"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/briangreenhill/productcache/cache"
)

// Product matches the remote entity shape
type Product struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Price              float64  `json:"price"`
	DiscountPercentage float64  `json:"discountPercentage,omitempty"`
	Rating             float64  `json:"rating,omitempty"`
	Stock              int      `json:"stock"`
	Brand              string   `json:"brand,omitempty"`
	Category           string   `json:"category,omitempty"`
	Thumbnail          string   `json:"thumbnail,omitempty"`
	Images             []string `json:"images,omitempty"`
}

// Page is one collection response. Pages held by the cache are never
// modified in place; every change builds a new Items slice.
type Page struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
}

// UnmarshalJSON reads the list from "items", or from "products" as
// dummyjson-style services send it. Other array fields are ignored.
func (p *Page) UnmarshalJSON(data []byte) error {
	return p.decode(data, DefaultCollection)
}

// decode reads the list from "items", falling back to the collection name
func (p *Page) decode(data []byte, collection string) error {
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Page
	fields := []struct {
		name string
		dst  any
	}{
		{"total", &out.Total},
		{"skip", &out.Skip},
		{"limit", &out.Limit},
		{"items", &out.Items},
	}
	if _, ok := raw["items"]; !ok {
		fields[3].name = collection
	}
	for _, f := range fields {
		v, ok := raw[f.name]
		if !ok || string(v) == "null" {
			continue
		}
		if err := sonic.Unmarshal(v, f.dst); err != nil {
			return err
		}
	}
	*p = out
	return nil
}

// collectionPage decodes a page whose list sits under a configured
// collection name
type collectionPage struct {
	page       *Page
	collection string
}

func (c collectionPage) UnmarshalJSON(data []byte) error {
	return c.page.decode(data, c.collection)
}

func (p Page) indexOf(id int) int {
	for i, item := range p.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (p Page) replaceAt(i int, item Product) Page {
	items := make([]Product, len(p.Items))
	copy(items, p.Items)
	items[i] = item
	p.Items = items
	return p
}

func (p Page) prepend(item Product) Page {
	items := make([]Product, 0, len(p.Items)+1)
	items = append(items, item)
	items = append(items, p.Items...)
	p.Items = items
	p.Total++
	return p
}

// without drops id from the items and decrements the total, which counts
// the whole collection rather than this page
func (p Page) without(id int) Page {
	items := make([]Product, 0, len(p.Items))
	for _, item := range p.Items {
		if item.ID != id {
			items = append(items, item)
		}
	}
	p.Items = items
	if p.Total > 0 {
		p.Total--
	}
	return p
}

// ListParams are the collection query parameters
type ListParams struct {
	Limit  int
	Skip   int
	Select []string
}

// values renders the parameters the way the remote expects them; zero
// values are left out
func (lp ListParams) values() map[string]string {
	v := map[string]string{}
	if lp.Limit > 0 {
		v["limit"] = strconv.Itoa(lp.Limit)
	}
	if lp.Skip > 0 {
		v["skip"] = strconv.Itoa(lp.Skip)
	}
	if sel := cache.JoinSet(lp.Select); sel != "" {
		v["select"] = sel
	}
	return v
}

// NewProduct is the create input: every field but the id
type NewProduct struct {
	Title              string   `json:"title" validate:"required"`
	Description        string   `json:"description,omitempty"`
	Price              float64  `json:"price" validate:"gte=0"`
	DiscountPercentage float64  `json:"discountPercentage,omitempty" validate:"gte=0,lte=100"`
	Stock              int      `json:"stock" validate:"gte=0"`
	Brand              string   `json:"brand,omitempty"`
	Category           string   `json:"category,omitempty"`
	Thumbnail          string   `json:"thumbnail,omitempty"`
	Images             []string `json:"images,omitempty"`
}

// ProductPatch is the update input: an id plus the fields to change.
// Nil fields, and an empty Images, are left alone. The id travels in the
// path, not the body.
type ProductPatch struct {
	ID                 int      `json:"-" validate:"gt=0"`
	Title              *string  `json:"title,omitempty" validate:"omitempty,min=1"`
	Description        *string  `json:"description,omitempty"`
	Price              *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	DiscountPercentage *float64 `json:"discountPercentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Rating             *float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	Stock              *int     `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Brand              *string  `json:"brand,omitempty"`
	Category           *string  `json:"category,omitempty"`
	Thumbnail          *string  `json:"thumbnail,omitempty"`
	Images             []string `json:"images,omitempty"`
}

// Apply returns p with the patch fields copied over it
func (pp ProductPatch) Apply(p Product) Product {
	if pp.Title != nil {
		p.Title = *pp.Title
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Price != nil {
		p.Price = *pp.Price
	}
	if pp.DiscountPercentage != nil {
		p.DiscountPercentage = *pp.DiscountPercentage
	}
	if pp.Rating != nil {
		p.Rating = *pp.Rating
	}
	if pp.Stock != nil {
		p.Stock = *pp.Stock
	}
	if pp.Brand != nil {
		p.Brand = *pp.Brand
	}
	if pp.Category != nil {
		p.Category = *pp.Category
	}
	if pp.Thumbnail != nil {
		p.Thumbnail = *pp.Thumbnail
	}
	if len(pp.Images) > 0 {
		p.Images = append([]string(nil), pp.Images...)
	}
	return p
}

// Ptr returns a pointer to v, for building patches
func Ptr[T any](v T) *T { return &v }
