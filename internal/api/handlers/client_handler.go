package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MilanSurkos/fakturomat/internal/models"
	"github.com/MilanSurkos/fakturomat/internal/services"
	"github.com/MilanSurkos/fakturomat/internal/utils"
)

// ClientHandler handles REST requests for clients.
type ClientHandler struct {
	clientService services.IClientService
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(clientService services.IClientService) *ClientHandler {
	return &ClientHandler{clientService: clientService}
}

// clientRequest is the JSON body for creating and updating clients.
type clientRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	ClientType string `json:"client_type"`
	TaxNumber  string `json:"tax_number"`
	VatNumber  string `json:"vat_number"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	BankIBAN   string `json:"bank_iban"`
	BankSWIFT  string `json:"bank_swift"`
}

func (r *clientRequest) apply(client *models.Client) {
	client.Name = r.Name
	client.Email = r.Email
	client.Phone = r.Phone
	client.ClientType = models.ClientType(r.ClientType)
	client.TaxNumber = r.TaxNumber
	client.VatNumber = r.VatNumber
	client.Street = r.Street
	client.City = r.City
	client.PostalCode = r.PostalCode
	client.Country = r.Country
	client.BankIBAN = r.BankIBAN
	client.BankSWIFT = r.BankSWIFT
}

// Create handles POST /v1/clients.
func (h *ClientHandler) Create(c *gin.Context) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	client := &models.Client{}
	req.apply(client)
	if err := h.clientService.Create(c.Request.Context(), client); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, client)
}

// List handles GET /v1/clients.
func (h *ClientHandler) List(c *gin.Context) {
	opts := services.ClientListOptions{
		Search: c.Query("q"),
		Page:   pageParam(c),
	}
	if clientType := c.Query("type"); clientType != "" {
		if !models.ClientType(clientType).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client type"})
			return
		}
		opts.ClientType = models.ClientType(clientType)
	}

	clients, total, err := h.clientService.List(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  clients,
		"total": total,
		"page":  opts.Page,
	})
}

// GetByID handles GET /v1/clients/:id. Stats and notes ride along so the
// detail view needs a single request.
func (h *ClientHandler) GetByID(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID format"})
		return
	}

	ctx := c.Request.Context()
	client, err := h.clientService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.clientService.Stats(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	notes, err := h.clientService.ListNotes(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client": client,
		"stats":  stats,
		"notes":  notes,
	})
}

// Update handles PUT /v1/clients/:id.
func (h *ClientHandler) Update(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID format"})
		return
	}
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	ctx := c.Request.Context()
	client, err := h.clientService.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	req.apply(client)
	if err := h.clientService.Update(ctx, client); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// Delete handles DELETE /v1/clients/:id.
func (h *ClientHandler) Delete(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID format"})
		return
	}
	if err := h.clientService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client deleted"})
}

// AddNote handles POST /v1/clients/:id/notes.
func (h *ClientHandler) AddNote(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID format"})
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	note := &models.ClientNote{ClientID: id, Body: req.Body}
	if err := h.clientService.AddNote(c.Request.Context(), note); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// ExportCSV handles GET /v1/clients/export.csv.
func (h *ClientHandler) ExportCSV(c *gin.Context) {
	data, err := h.clientService.ExportCSV(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="clients_export.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}
