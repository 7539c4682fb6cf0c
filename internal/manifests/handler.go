package manifests

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sbomer/pkg/models"
	"sbomer/pkg/utils"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Broadcaster receives manifest change events. *events.Hub satisfies it.
type Broadcaster interface {
	BroadcastJSON(v any)
}

type Handler struct {
	Repo   *Repo
	Events Broadcaster
	Log    *utils.Logger
}

func NewHandler(repo *Repo, events Broadcaster, log *utils.Logger) *Handler {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Handler{Repo: repo, Events: events, Log: log.WithComponent("manifests")}
}

// RegisterRoutes mounts the read endpoints publicly and guards writes with
// the given middleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, write ...gin.HandlerFunc) {
	rg.GET("", h.search)         // GET /api/v1beta2/manifests
	rg.GET("/:id", h.getByID)    // GET /api/v1beta2/manifests/:id
	rg.GET("/:id/bom", h.getBOM) // GET /api/v1beta2/manifests/:id/bom

	guarded := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(write)+1)
		return append(append(chain, write...), fn)
	}
	rg.POST("", guarded(h.create)...)
	rg.DELETE("/:id", guarded(h.remove)...)
}

func (h *Handler) search(c *gin.Context) {
	pageIndex, err := parseInt(c.Query("pageIndex"), 0)
	if err != nil || pageIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageIndex must be a number >= 0"})
		return
	}
	pageSize, err := parseInt(c.Query("pageSize"), DefaultPageSize)
	if err != nil || pageSize < 1 || pageSize > MaxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize must be a number between 1 and 200"})
		return
	}
	if pageIndex > math.MaxInt/pageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageIndex is out of range"})
		return
	}
	queryType, err := models.ParseQueryType(c.Query("queryType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := ListQuery{
		QueryType:  queryType,
		QueryValue: c.Query("queryValue"),
		PageIndex:  pageIndex,
		PageSize:   pageSize,
	}

	total, err := h.Repo.Count(c.Request.Context(), q)
	if err != nil {
		h.Log.Error().Err(err).Msg("count manifests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}

	items, err := h.Repo.List(c.Request.Context(), q)
	if err != nil {
		h.Log.Error().Err(err).Msg("list manifests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	c.Header("X-Total-Count", strconv.Itoa(total))
	c.Header("X-Page-Index", strconv.Itoa(pageIndex))
	c.Header("X-Page-Size", strconv.Itoa(pageSize))
	c.JSON(http.StatusOK, models.NewPage(items, pageIndex, pageSize, total))
}

func (h *Handler) getByID(c *gin.Context) {
	id := c.Param("id")
	m, err := h.Repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.Log.Error().Err(err).Str("id", id).Msg("get manifest")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "manifest with id '" + id + "' could not be found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) getBOM(c *gin.Context) {
	id := c.Param("id")
	bom, err := h.Repo.GetBOM(c.Request.Context(), id)
	if err != nil {
		h.Log.Error().Err(err).Str("id", id).Msg("get bom")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if bom == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "manifest with id '" + id + "' could not be found"})
		return
	}
	c.Data(http.StatusOK, "application/json", bom)
}

type createReq struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Purl    string          `json:"purl"`
	Format  string          `json:"format"`
	BOM     json.RawMessage `json:"bom"`
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	bom := bytes.TrimSpace(req.BOM)
	if len(bom) == 0 || bom[0] != '{' {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bom must be a JSON object"})
		return
	}

	m := &models.Manifest{
		ID:      uuid.NewString(),
		Name:    name,
		Version: strings.TrimSpace(req.Version),
		Purl:    strings.TrimSpace(req.Purl),
		Format:  strings.ToLower(strings.TrimSpace(req.Format)),
		Created: time.Now().UTC(),
	}
	if err := h.Repo.Create(c.Request.Context(), m, bom); err != nil {
		h.Log.Error().Err(err).Str("name", name).Msg("create manifest")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	h.Log.Info().Str("id", m.ID).Str("name", m.Name).Msg("manifest created")
	h.broadcast(models.EventManifestCreated, m.ID, m.Name)
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) remove(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.Repo.Delete(c.Request.Context(), id)
	if err != nil {
		h.Log.Error().Err(err).Str("id", id).Msg("delete manifest")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "manifest with id '" + id + "' could not be found"})
		return
	}

	h.Log.Info().Str("id", id).Msg("manifest deleted")
	h.broadcast(models.EventManifestDeleted, id, "")
	c.Status(http.StatusNoContent)
}

func (h *Handler) broadcast(typ, id, name string) {
	if h.Events == nil {
		return
	}
	h.Events.BroadcastJSON(models.ManifestEvent{
		Type: typ,
		ID:   id,
		Name: name,
		At:   time.Now().UTC(),
	})
}

func parseInt(s string, def int) (int, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(s))
}
