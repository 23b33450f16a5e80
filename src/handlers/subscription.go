package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pbxops/ns-registry/src/middleware"
	"github.com/pbxops/ns-registry/src/models"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/services"
)

// SubscriptionHandler exposes the registry CRUD surface. Every route runs
// behind the portal auth middleware, so the PBX user and a token-bound
// client are always available on the context.
type SubscriptionHandler struct {
	service *services.SubscriptionService
}

// NewSubscriptionHandler creates a subscription handler.
func NewSubscriptionHandler(service *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

type subscriptionRequest struct {
	User              string `json:"user"`
	SubscriptionModel string `json:"subscription_model" binding:"required"`
	PostURL           string `json:"post_url" binding:"required"`
	Description       string `json:"description"`
}

func writeServiceError(c *gin.Context, err error) {
	var apiErr *nsapi.APIError
	switch {
	case errors.Is(err, services.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
	case errors.Is(err, nsapi.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PBX unavailable"})
	case errors.Is(err, services.ErrPBXRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// HandleCreate registers a subscription on the PBX and mirrors it locally.
func (sh *SubscriptionHandler) HandleCreate(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.GetPortalUser(c)
	user := req.User
	if user == "" {
		user = caller.User
	}

	sub := &models.Subscription{
		Domain:            caller.Domain,
		User:              user,
		SubscriptionModel: req.SubscriptionModel,
		PostURL:           req.PostURL,
		Description:       req.Description,
	}

	created, err := sh.service.Create(c.Request.Context(), middleware.GetPortalClient(c), caller.User, sub)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// HandleAdopt takes an existing PBX subscription under management.
func (sh *SubscriptionHandler) HandleAdopt(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.User == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}

	caller := middleware.GetPortalUser(c)
	sub := &models.Subscription{
		Domain:            caller.Domain,
		User:              req.User,
		SubscriptionModel: req.SubscriptionModel,
		PostURL:           req.PostURL,
		Description:       req.Description,
	}

	adopted, err := sh.service.Adopt(c.Request.Context(), caller.User, sub)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, adopted)
}

// HandleList returns managed records merged with unmanaged PBX-side ones.
func (sh *SubscriptionHandler) HandleList(c *gin.Context) {
	caller := middleware.GetPortalUser(c)
	merged, err := sh.service.ListMerged(c.Request.Context(), middleware.GetPortalClient(c), caller.Domain)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, merged)
}

// HandleStatus reports maintenance health for the caller's domain.
func (sh *SubscriptionHandler) HandleStatus(c *gin.Context) {
	caller := middleware.GetPortalUser(c)
	summary, err := sh.service.Status(c.Request.Context(), caller.Domain)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleUpdate patches a managed subscription and pushes it to the PBX.
func (sh *SubscriptionHandler) HandleUpdate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	var patch models.SubscriptionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.GetPortalUser(c)
	updated, err := sh.service.Update(c.Request.Context(), middleware.GetPortalClient(c), caller.User, id, patch)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// HandleDelete removes the PBX-side subscription and archives the record.
func (sh *SubscriptionHandler) HandleDelete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	caller := middleware.GetPortalUser(c)
	archived, err := sh.service.Delete(c.Request.Context(), middleware.GetPortalClient(c), caller.User, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, archived)
}

// HandleUserSearch autocompletes PBX users of the caller's domain.
func (sh *SubscriptionHandler) HandleUserSearch(c *gin.Context) {
	caller := middleware.GetPortalUser(c)
	users, err := sh.service.SearchUsers(c.Request.Context(), middleware.GetPortalClient(c), caller.Domain, c.Query("q"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if users == nil {
		users = []models.NSUser{}
	}
	c.JSON(http.StatusOK, users)
}
