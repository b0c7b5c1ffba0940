package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

const productCacheTTL = 60 * time.Second

// ProductService is the read-only catalog view used by the storefront.
type ProductService struct {
	productRepo repository.ProductRepository
	cache       *cache.Cache
	logger      *slog.Logger
}

func NewProductService(productRepo repository.ProductRepository, c *cache.Cache, logger *slog.Logger) *ProductService {
	return &ProductService{productRepo: productRepo, cache: c, logger: logger}
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	cacheKey := cache.ProductKey(id.String())

	if s.cache != nil {
		var cached dto.ProductResponse
		err := s.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("product cache read failed", "product_id", id, "error", err)
		}
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	variants, err := s.productRepo.ListVariants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}

	resp := toProductResponse(product, variants)
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, resp, productCacheTTL); err != nil {
			s.logger.Warn("product cache write failed", "product_id", id, "error", err)
		}
	}
	return &resp, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	offset := (req.Page - 1) * req.Limit
	products, total, err := s.productRepo.List(ctx, req.Limit, offset, req.Search, req.Sort, req.Order)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i], nil))
	}
	return &dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

// InvalidateProducts drops cached catalog entries whose stock just moved.
func (s *ProductService) InvalidateProducts(ctx context.Context, ids ...uuid.UUID) error {
	if s.cache == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.ProductKey(id.String())
	}
	return s.cache.Delete(ctx, keys...)
}

func toProductResponse(p *model.Product, variants []model.Variant) dto.ProductResponse {
	resp := dto.ProductResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		SKU:            p.SKU,
		Price:          p.Price,
		EffectivePrice: p.EffectivePrice(),
		Stock:          p.Stock,
		AllowBackorder: p.AllowBackorder,
		ImagePath:      p.ImagePath,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.SalePrice.Valid {
		sale := p.SalePrice.Decimal
		resp.SalePrice = &sale
	}
	for i := range variants {
		v := &variants[i]
		resp.Variants = append(resp.Variants, dto.VariantResponse{
			ID:             v.ID,
			SKU:            v.SKU,
			Options:        v.Options,
			EffectivePrice: v.EffectivePrice(p),
			Stock:          v.Stock,
			AllowBackorder: v.AllowBackorder || p.AllowBackorder,
		})
	}
	return resp
}
