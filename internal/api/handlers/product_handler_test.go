package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/MilanSurkos/fakturomat/internal/api/handlers"
	"github.com/MilanSurkos/fakturomat/internal/apperr"
	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

func TestProductHandler_Create_DefaultsToActive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.POST("/v1/products", handler.Create)

	mockProductSvc.On("Create", mock.Anything, mock.MatchedBy(func(product *models.Product) bool {
		return product.Name == "Consulting" && product.Active && product.UnitPrice.Equal(decimal.NewFromFloat(85.00))
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Product).GenID()
	}).Return(nil)

	body := `{"name": "Consulting", "unit": "hour", "unit_price": "85.00", "vat_rate": "20"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/products", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var respBody models.Product
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Equal(t, "Consulting", respBody.Name)
	assert.True(t, respBody.Active)
	mockProductSvc.AssertExpectations(t)
}

func TestProductHandler_Create_ExplicitlyInactive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.POST("/v1/products", handler.Create)

	mockProductSvc.On("Create", mock.Anything, mock.MatchedBy(func(product *models.Product) bool {
		return product.Name == "Legacy plan" && !product.Active
	})).Return(nil)

	body := `{"name": "Legacy plan", "unit_price": "10.00", "vat_rate": "20", "active": false}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/products", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	mockProductSvc.AssertExpectations(t)
}

func TestProductHandler_List_ActiveByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.GET("/v1/products", handler.List)

	expectedOpts := services.ProductListOptions{
		Search:     "host",
		ActiveOnly: true,
		Page:       1,
	}
	products := []*models.Product{
		{Base: models.Base{ID: utils.NewSixID()}, Name: "Hosting", Active: true},
	}
	mockProductSvc.On("List", mock.Anything, expectedOpts).Return(products, 1, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/products?q=host", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody struct {
		Data  []*models.Product `json:"data"`
		Total int               `json:"total"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Len(t, respBody.Data, 1)
	assert.Equal(t, "Hosting", respBody.Data[0].Name)
	mockProductSvc.AssertExpectations(t)
}

func TestProductHandler_List_IncludeInactive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.GET("/v1/products", handler.List)

	expectedOpts := services.ProductListOptions{ActiveOnly: false, Page: 1}
	mockProductSvc.On("List", mock.Anything, expectedOpts).Return([]*models.Product{}, 0, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/products?active=false", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockProductSvc.AssertExpectations(t)
}

func TestProductHandler_GetByID_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.GET("/v1/products/:id", handler.GetByID)

	productID := utils.NewSixID()
	notFound := apperr.NewError("product not found").
		WithHint("Product not found.").
		Mark(apperr.ErrNotFound)
	mockProductSvc.On("FindByID", mock.Anything, productID).Return(nil, notFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/products/"+productID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var respBody map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Contains(t, respBody["error"], "Product not found")
	mockProductSvc.AssertExpectations(t)
}

func TestProductHandler_Update_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.PUT("/v1/products/:id", handler.Update)

	productID := utils.NewSixID()
	existing := &models.Product{
		Base:      models.Base{ID: productID},
		Name:      "Hosting",
		UnitPrice: decimal.NewFromFloat(5.00),
		VatRate:   decimal.NewFromFloat(20.00),
		Active:    true,
	}

	mockProductSvc.On("FindByID", mock.Anything, productID).Return(existing, nil)
	mockProductSvc.On("Update", mock.Anything, mock.MatchedBy(func(product *models.Product) bool {
		return product.ID == productID && product.UnitPrice.Equal(decimal.NewFromFloat(7.50))
	})).Return(nil)

	body := `{"name": "Hosting", "unit_price": "7.50", "vat_rate": "20", "active": true}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/v1/products/"+productID.String(), bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockProductSvc.AssertExpectations(t)
}

func TestProductHandler_Delete_Deactivates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockProductSvc := new(MockProductService)
	handler := handlers.NewProductHandler(mockProductSvc)

	r := gin.New()
	r.DELETE("/v1/products/:id", handler.Delete)

	productID := utils.NewSixID()
	mockProductSvc.On("Deactivate", mock.Anything, productID).Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/v1/products/"+productID.String(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &respBody)
	assert.NoError(t, err)
	assert.Equal(t, "Product deactivated", respBody["message"])
	mockProductSvc.AssertExpectations(t)
}
