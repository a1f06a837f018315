package service

import (
	"context"
	"errors"
	"strings"

	"sneaker-store/internal/models"
	"sneaker-store/internal/store"
	"sneaker-store/internal/util"

	"go.uber.org/zap"
)

// CatalogService serves the storefront catalog and the admin product screens
type CatalogService struct {
	catalog         CatalogStore
	assetURL        string
	defaultPageSize int
	maxPageSize     int
	logger          *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(catalog CatalogStore, assetURL string, defaultPageSize, maxPageSize int) *CatalogService {
	return &CatalogService{
		catalog:         catalog,
		assetURL:        assetURL,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          util.GetLogger(),
	}
}

// ListProductsQuery holds the catalog filters; Page is 1-based
type ListProductsQuery struct {
	Page     int
	Limit    int
	Category string
	Brand    string
	Search   string
}

type ProductPage struct {
	Products []models.Product `json:"products"`
	Page
}

func (s *CatalogService) ListProducts(ctx context.Context, q ListProductsQuery) (*ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	pageNum, limit, offset := page(q.Page, q.Limit, s.defaultPageSize, s.maxPageSize)
	products, total, err := s.catalog.ListProducts(ctx, models.ProductFilter{
		Category: strings.TrimSpace(q.Category),
		Brand:    strings.TrimSpace(q.Brand),
		Search:   strings.TrimSpace(q.Search),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	for i := range products {
		products[i].Image = resolveImage(s.assetURL, products[i].Image)
	}
	return &ProductPage{Products: products, Page: newPage(pageNum, limit, total)}, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.catalog.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, CodeProductNotFound, "product not found", err)
	}
	if err != nil {
		return nil, err
	}
	product.Image = resolveImage(s.assetURL, product.Image)
	return product, nil
}

// CreateProductRequest is the admin add-product body. Price is in paisa.
type CreateProductRequest struct {
	Name        string             `json:"name"`
	Category    string             `json:"category"`
	Brand       string             `json:"brand"`
	Price       int64              `json:"price"`
	Description string             `json:"description"`
	Image       string             `json:"image"`
	Sizes       []models.SizeStock `json:"sizes"`
}

func (r *CreateProductRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Category) == "" {
		return validationError("name and category are required")
	}
	if r.Price <= 0 {
		return validationError("price must be positive")
	}
	seen := make(map[string]bool, len(r.Sizes))
	for _, sz := range r.Sizes {
		if sz.Size == "" {
			return validationError("size label is required")
		}
		if sz.Quantity < 0 {
			return validationError("quantity for size %s cannot be negative", sz.Size)
		}
		if seen[sz.Size] {
			return validationError("size %s is listed twice", sz.Size)
		}
		seen[sz.Size] = true
	}
	return nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:        strings.TrimSpace(req.Name),
		Category:    strings.TrimSpace(req.Category),
		Brand:       strings.TrimSpace(req.Brand),
		Price:       req.Price,
		Description: req.Description,
		Image:       req.Image,
		Sizes:       req.Sizes,
	}
	if err := s.catalog.CreateProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrDuplicateProduct) {
			return nil, newError(KindConflict, CodeConflict, "a product with this name already exists in the category", err)
		}
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Product created", zap.Int64("product_id", product.ID), zap.String("name", product.Name))
	product.Image = resolveImage(s.assetURL, product.Image)
	return product, nil
}

// RestockRequest adds quantity to one size
type RestockRequest struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

func (s *CatalogService) Restock(ctx context.Context, productID int64, req *RestockRequest) (*models.SizeStock, error) {
	if req.Size == "" {
		return nil, validationError("size is required")
	}
	if req.Quantity <= 0 {
		return nil, validationError("quantity must be positive")
	}

	stock, err := s.catalog.RestockProduct(ctx, productID, req.Size, req.Quantity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, CodeProductNotFound, "product not found", err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product restocked",
		zap.Int64("product_id", productID),
		zap.String("size", stock.Size),
		zap.Int("quantity", stock.Quantity))
	return stock, nil
}

func (s *CatalogService) RemoveProduct(ctx context.Context, productID int64) error {
	err := s.catalog.RemoveProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, CodeProductNotFound, "product not found", err)
	}
	if err == nil {
		s.logger.Info("Product removed", zap.Int64("product_id", productID))
	}
	return err
}
