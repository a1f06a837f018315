package api

import (
	"net/http"

	"sneaker-store/internal/service"

	"github.com/gin-gonic/gin"
)

type otpRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (h *Handler) requestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := h.svc.Auth.RequestOTP(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "a login code was sent to your email"})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	resp, err := h.svc.Auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listProducts(c *gin.Context) {
	page, limit := pageParams(c)
	result, err := h.svc.Catalog.ListProducts(c.Request.Context(), service.ListProductsQuery{
		Page:     page,
		Limit:    limit,
		Category: c.Query("category"),
		Brand:    c.Query("brand"),
		Search:   c.Query("search"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	product, err := h.svc.Catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	product, err := h.svc.Catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) restockProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	stock, err := h.svc.Catalog.Restock(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *Handler) removeProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Catalog.RemoveProduct(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.svc.Orders.MyOrders(c.Request.Context(), claimsFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listOrders(c *gin.Context) {
	page, limit := pageParams(c)
	result, err := h.svc.Orders.ListOrders(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	order, err := h.svc.Orders.UpdateStatus(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listPayments(c *gin.Context) {
	page, limit := pageParams(c)
	result, err := h.svc.Orders.ListPayments(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) createReview(c *gin.Context) {
	var req service.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	review, err := h.svc.Reviews.Create(c.Request.Context(), claimsFrom(c).UserID, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *Handler) listReviews(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	reviews, err := h.svc.Reviews.ListForProduct(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}
