package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// ProductHandler handles REST requests for the product catalog.
type ProductHandler struct {
	productService services.IProductService
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(productService services.IProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

// productRequest is the JSON body for creating and updating products.
// Decimal fields accept both quoted and bare numbers.
type productRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VatRate     decimal.Decimal `json:"vat_rate"`
	Active      *bool           `json:"active"`
}

func (r *productRequest) apply(product *models.Product) {
	product.Name = r.Name
	product.Description = r.Description
	product.Unit = r.Unit
	product.UnitPrice = r.UnitPrice
	product.VatRate = r.VatRate
	if r.Active != nil {
		product.Active = *r.Active
	}
}

// Create handles POST /v1/products. New products are active unless the body
// says otherwise.
func (h *ProductHandler) Create(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	product := &models.Product{Active: true}
	req.apply(product)
	if err := h.productService.Create(c.Request.Context(), product); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// List handles GET /v1/products.
func (h *ProductHandler) List(c *gin.Context) {
	opts := services.ProductListOptions{
		Search:     c.Query("q"),
		ActiveOnly: c.DefaultQuery("active", "true") == "true",
		Page:       pageParam(c),
	}

	products, total, err := h.productService.List(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  products,
		"total": total,
		"page":  opts.Page,
	})
}

// GetByID handles GET /v1/products/:id.
func (h *ProductHandler) GetByID(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID format"})
		return
	}

	product, err := h.productService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// Update handles PUT /v1/products/:id.
func (h *ProductHandler) Update(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID format"})
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	ctx := c.Request.Context()
	product, err := h.productService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	req.apply(product)
	if err := h.productService.Update(ctx, product); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// Delete handles DELETE /v1/products/:id. Products referenced by invoices are
// only deactivated, never removed.
func (h *ProductHandler) Delete(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID format"})
		return
	}
	if err := h.productService.Deactivate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deactivated"})
}
