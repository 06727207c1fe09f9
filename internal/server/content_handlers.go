package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

type bulkDeleteRequestPayload struct {
	IDs []string `json:"ids"`
}

type schemaPayload struct {
	Collection string                    `json:"collection"`
	Title      string                    `json:"title"`
	Fields     []content.FieldDescriptor `json:"fields"`
}

// resolveCollection rejects identifiers outside the allow-list before any
// handler reaches storage.
func (h *httpHandler) resolveCollection(c *gin.Context) {
	collection, err := content.ParseCollection(c.Param("collection"))
	if err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid collection")
		return
	}
	c.Set(collectionContextKey, collection)
	c.Next()
}

func collectionFromContext(c *gin.Context) content.Collection {
	value, _ := c.Get(collectionContextKey)
	collection, _ := value.(content.Collection)
	return collection
}

func (h *httpHandler) handleSchema(c *gin.Context) {
	schema, ok := h.content.Registry().Lookup(collectionFromContext(c))
	if !ok {
		respondFailure(c, http.StatusBadRequest, "Invalid collection")
		return
	}
	respondData(c, http.StatusOK, "", schemaPayload{
		Collection: schema.Collection.String(),
		Title:      schema.Title,
		Fields:     schema.Fields,
	})
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	identity, _ := identityFromContext(c)
	body, ok := readBody(c)
	if !ok {
		return
	}
	collection := collectionFromContext(c)
	record, err := h.content.Create(c.Request.Context(), collection, identity.UserID, body)
	if err != nil {
		h.respondError(c, "content.create", err)
		return
	}
	h.publish(collection, relay.ActionCreate, record)
	respondData(c, http.StatusCreated, "Item created successfully", record)
}

func (h *httpHandler) handleList(c *gin.Context) {
	query := content.ListQuery{Sort: c.Query("sort")}
	var err error
	if query.Page, err = optionalInt(c, "page"); err != nil {
		h.respondError(c, "content.list", err)
		return
	}
	if query.Limit, err = optionalInt(c, "limit"); err != nil {
		h.respondError(c, "content.list", err)
		return
	}
	result, err := h.content.List(c.Request.Context(), collectionFromContext(c), query)
	if err != nil {
		h.respondError(c, "content.list", err)
		return
	}
	pagination := result.Pagination
	c.JSON(http.StatusOK, envelope{Success: true, Data: result.Records, Pagination: &pagination})
}

func (h *httpHandler) handleGet(c *gin.Context) {
	record, err := h.content.Get(c.Request.Context(), collectionFromContext(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "content.get", err)
		return
	}
	respondData(c, http.StatusOK, "", record)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	collection := collectionFromContext(c)
	record, err := h.content.Update(c.Request.Context(), collection, c.Param("id"), body)
	if err != nil {
		h.respondError(c, "content.update", err)
		return
	}
	h.publish(collection, relay.ActionUpdate, record)
	respondData(c, http.StatusOK, "Item updated successfully", record)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	collection := collectionFromContext(c)
	record, err := h.content.Delete(c.Request.Context(), collection, c.Param("id"))
	if err != nil {
		h.respondError(c, "content.delete", err)
		return
	}
	h.publish(collection, relay.ActionDelete, record)
	respondData(c, http.StatusOK, "Item deleted successfully", record)
}

func (h *httpHandler) handleBulkDelete(c *gin.Context) {
	var request bulkDeleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, "content.bulk_delete", validation.New("ids", "IDs array is required and cannot be empty"))
		return
	}
	collection := collectionFromContext(c)
	result, err := h.content.BulkDelete(c.Request.Context(), collection, request.IDs)
	if err != nil {
		h.respondError(c, "content.bulk_delete", err)
		return
	}
	count := result.Count
	if count > 0 {
		h.publish(collection, relay.ActionBulkDelete, relay.BulkDeletePayload{IDs: result.IDs, Count: count})
	}
	c.JSON(http.StatusOK, envelope{
		Success:      true,
		Message:      strconv.FormatInt(count, 10) + " items deleted successfully",
		DeletedCount: &count,
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.content.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, "content.stats", err)
		return
	}
	respondData(c, http.StatusOK, "", stats)
}

func (h *httpHandler) handlePublicContent(c *gin.Context) {
	records, err := h.content.ListPublic(c.Request.Context(), collectionFromContext(c))
	if err != nil {
		h.respondError(c, "content.list_public", err)
		return
	}
	respondData(c, http.StatusOK, "", records)
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if len(body) > maxBodyBytes {
		respondFailure(c, http.StatusRequestEntityTooLarge, "Request body too large")
		return nil, false
	}
	return body, true
}

func optionalInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validation.New(key, key+" must be a number")
	}
	return value, nil
}
