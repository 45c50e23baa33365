package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/MilanSurkos/fakturomat/internal/api/handlers"
	"github.com/MilanSurkos/fakturomat/internal/api/middleware"
	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, database *sql.DB, rdb *redis.Client, taskClient handlers.IAsynqClient) *gin.Engine {
	// Initialize services needed by API handlers HERE
	// invoiceService must be initialized first: clientService and
	// dashboardService consume it for per-client stats and aggregates.
	invoiceService := services.NewInvoiceService(database, cfg)
	clientService := services.NewClientService(database, cfg, invoiceService)
	productService := services.NewProductService(database, cfg)
	companyService := services.NewCompanyService(database)
	dashboardService := services.NewDashboardService(database, cfg, rdb, invoiceService)
	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	// gin.New instead of gin.Default: request logging goes through zap.
	r := gin.New()
	r.Use(gin.Recovery())

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.RequestLogger())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	invoiceHandler := handlers.NewInvoiceHandler(cfg, invoiceService, clientService, companyService, s3StorageService, taskClient)
	clientHandler := handlers.NewClientHandler(clientService)
	productHandler := handlers.NewProductHandler(productService)
	companyHandler := handlers.NewCompanyHandler(cfg, companyService, s3StorageService, taskClient)
	dashboardHandler := handlers.NewDashboardHandler(dashboardService)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Invoice routes. calculate-totals stays before the :id routes so
		// the static path is registered ahead of its param sibling.
		v1.POST("/invoices", invoiceHandler.Create)
		v1.GET("/invoices", invoiceHandler.List)
		v1.POST("/invoices/calculate-totals", invoiceHandler.CalculateTotals)
		v1.GET("/invoices/:id", invoiceHandler.GetByID)
		v1.PUT("/invoices/:id", invoiceHandler.Update)
		v1.DELETE("/invoices/:id", invoiceHandler.Delete)
		v1.POST("/invoices/:id/status", invoiceHandler.ChangeStatus)
		v1.POST("/invoices/:id/send", invoiceHandler.Send)
		v1.GET("/invoices/:id/pdf", invoiceHandler.GetPDF)

		// Client routes
		v1.POST("/clients", clientHandler.Create)
		v1.GET("/clients", clientHandler.List)
		v1.GET("/clients/export.csv", clientHandler.ExportCSV)
		v1.GET("/clients/:id", clientHandler.GetByID)
		v1.PUT("/clients/:id", clientHandler.Update)
		v1.DELETE("/clients/:id", clientHandler.Delete)
		v1.POST("/clients/:id/notes", clientHandler.AddNote)

		// Product routes
		v1.POST("/products", productHandler.Create)
		v1.GET("/products", productHandler.List)
		v1.GET("/products/:id", productHandler.GetByID)
		v1.PUT("/products/:id", productHandler.Update)
		v1.DELETE("/products/:id", productHandler.Delete)

		// Company profile routes
		v1.GET("/company", companyHandler.Get)
		v1.PUT("/company", companyHandler.Update)
		v1.POST("/company/logo", companyHandler.UploadLogo)

		v1.GET("/dashboard", dashboardHandler.Get)
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
// Requires Redis client for the getTestEmail endpoint.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"` // Use RawMessage
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // Expect ["action_type", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [actionType, email]"})
				return
			}
			actionType := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, actionType)

			// Poll Redis briefly for the key
			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second) // Short timeout for service call
			defer cancel()
			for i := 0; i < 10; i++ { // Poll up to ~2 seconds
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey) // Delete after fetching
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				// If redis.Nil, wait and retry
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			// Unmarshal the found JSON data
			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			// Return the full email data object
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
