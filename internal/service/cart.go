package service

import (
	"context"
	"fmt"
	"slices"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
)

// AddToCart adds qty of a product to a client-held cart. The cart is never
// stored; lines keep the prices read here.
func (s *Service) AddToCart(ctx context.Context, cart domain.Cart, productID string, qty int) (domain.Cart, error) {
	if productID == "" || qty <= 0 {
		return cart, store.ErrInvalidTransaction
	}

	_, scope, err := s.scopeFor(ctx, cart.SiteID)
	if err != nil {
		return cart, err
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return cart, err
	}
	if !scope.Includes(product.SiteID) {
		return cart, store.ErrNotFound
	}
	if !product.Active {
		return cart, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, product.ID)
	}
	if cart.SiteID != "" && cart.SiteID != domain.AllSites && cart.SiteID != product.SiteID {
		return cart, fmt.Errorf("%w: cart belongs to site %s", store.ErrInvalidTransaction, cart.SiteID)
	}

	wanted := cart.QuantityOf(productID) + qty
	if wanted > product.Stock {
		return cart, fmt.Errorf("%w: %s has %d in stock, cart needs %d", store.ErrInsufficientStock, product.Name, product.Stock, wanted)
	}

	next := domain.Cart{SiteID: product.SiteID, Lines: slices.Clone(cart.Lines)}
	for i := range next.Lines {
		if next.Lines[i].ProductID != productID {
			continue
		}
		next.Lines[i].Quantity += qty
		next.Lines[i].Name = product.Name
		next.Lines[i].SellingPriceCents = product.SellingPriceCents
		next.Lines[i].PurchasePriceCents = product.PurchasePriceCents
		return next, nil
	}

	next.Lines = append(next.Lines, domain.CartLine{
		ProductID:          product.ID,
		Name:               product.Name,
		Quantity:           qty,
		SellingPriceCents:  product.SellingPriceCents,
		PurchasePriceCents: product.PurchasePriceCents,
	})
	return next, nil
}

func RemoveFromCart(cart domain.Cart, productID string) domain.Cart {
	next := domain.Cart{SiteID: cart.SiteID, Lines: make([]domain.CartLine, 0, len(cart.Lines))}
	for _, line := range cart.Lines {
		if line.ProductID != productID {
			next.Lines = append(next.Lines, line)
		}
	}
	return next
}
