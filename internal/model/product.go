// Package model defines domain models and data structures.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places a price may carry; it matches NUMERIC(19, 4).
const PriceScale = 4

// ProductStatus is the lifecycle status of a product.
type ProductStatus string

const (
	// ProductStatusActive is the status of a sellable product.
	ProductStatusActive ProductStatus = "ACTIVE"
	// ProductStatusDiscontinued is the status of a product no longer restocked.
	ProductStatusDiscontinued ProductStatus = "DISCONTINUED"
	// ProductStatusDeleted is terminal; no further mutation is allowed.
	ProductStatusDeleted ProductStatus = "DELETED"
)

// IsValid reports whether s is a known status.
func (s ProductStatus) IsValid() bool {
	switch s {
	case ProductStatusActive, ProductStatusDiscontinued, ProductStatusDeleted:
		return true
	default:
		return false
	}
}

// Product represents a catalog item.
type Product struct {
	ID          uuid.UUID       `json:"id"`
	Version     int64           `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	Status      ProductStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsDeleted reports whether the product reached the terminal status.
func (p *Product) IsDeleted() bool {
	return p.Status == ProductStatusDeleted
}

// Touch advances UpdatedAt to now, never moving it backwards.
func (p *Product) Touch(now time.Time) {
	now = now.UTC()
	if !now.After(p.UpdatedAt) {
		now = p.UpdatedAt.Add(time.Microsecond)
	}

	p.UpdatedAt = now
}

// Clone returns a copy of the product.
func (p *Product) Clone() *Product {
	c := *p

	return &c
}

// CreateProductParams represents parameters for creating a new product.
type CreateProductParams struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
}

// Validate validates the create product parameters.
func (p *CreateProductParams) Validate() error {
	verr := &ValidationError{}

	validateName(verr, p.Name)
	validateDescription(verr, p.Description)
	validatePrice(verr, p.Price)
	validateStock(verr, p.Stock)

	return verr.OrNil()
}

// UpdateProductParams represents a partial update; nil fields are left unchanged.
type UpdateProductParams struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int64           `json:"stock,omitempty"`
	Status      *ProductStatus   `json:"status,omitempty"`
}

// Validate validates the update product parameters.
func (p *UpdateProductParams) Validate() error {
	verr := &ValidationError{}

	if p.Name == nil && p.Description == nil && p.Price == nil && p.Stock == nil && p.Status == nil {
		verr.Add("body", "at least one attribute must be provided")
	}

	if p.Name != nil {
		validateName(verr, *p.Name)
	}

	if p.Description != nil {
		validateDescription(verr, *p.Description)
	}

	if p.Price != nil {
		validatePrice(verr, *p.Price)
	}

	if p.Stock != nil {
		validateStock(verr, *p.Stock)
	}

	if p.Status != nil {
		switch *p.Status {
		case ProductStatusActive, ProductStatusDiscontinued:
		case ProductStatusDeleted:
			verr.Add("status", "use delete to remove a product")
		default:
			verr.Add("status", "must be ACTIVE or DISCONTINUED")
		}
	}

	return verr.OrNil()
}

// Apply copies the provided attributes onto product.
func (p *UpdateProductParams) Apply(product *Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}

	if p.Description != nil {
		product.Description = *p.Description
	}

	if p.Price != nil {
		product.Price = *p.Price
	}

	if p.Stock != nil {
		product.Stock = *p.Stock
	}

	if p.Status != nil {
		product.Status = *p.Status
	}
}

// ListParams controls product listing.
type ListParams struct {
	Limit          int
	Offset         int
	IncludeDeleted bool
}

func validateName(verr *ValidationError, name string) {
	switch {
	case !utf8.ValidString(name):
		verr.Add("name", "must be valid UTF-8")
	case strings.TrimSpace(name) == "":
		verr.Add("name", "must not be empty")
	}
}

func validateDescription(verr *ValidationError, description string) {
	if !utf8.ValidString(description) {
		verr.Add("description", "must be valid UTF-8")
	}
}

func validatePrice(verr *ValidationError, price decimal.Decimal) {
	if price.IsNegative() {
		verr.Add("price", "must not be negative")
	}

	if !price.Equal(price.Truncate(PriceScale)) {
		verr.Add("price", fmt.Sprintf("must have at most %d decimal places", PriceScale))
	}
}

func validateStock(verr *ValidationError, stock int64) {
	if stock < 0 {
		verr.Add("stock", "must not be negative")
	}
}
