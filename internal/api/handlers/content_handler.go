package handlers

import (
	"net/http"
	"strconv"

	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/models"
	"draftr/internal/platform/repositories"
)

// ContentHandler serves what workflows produce: posts and brand settings.
type ContentHandler struct {
	posts  *repositories.PostRepository
	brands *repositories.BrandSettingsRepository
}

func NewContentHandler(posts *repositories.PostRepository, brands *repositories.BrandSettingsRepository) *ContentHandler {
	return &ContentHandler{posts: posts, brands: brands}
}

func (h *ContentHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	posts, err := h.posts.ListByOrg(r.Context(), tenantOf(r).OrgID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	apperrors.WriteJSON(w, http.StatusOK, posts)
}

func (h *ContentHandler) GetBrandSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.brands.Get(r.Context(), tenantOf(r).OrgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if settings == nil {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Brand settings not found, run brand-analysis first", nil)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, settings)
}
