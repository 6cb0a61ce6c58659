package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/MattCarneiro/forms/internal/forms"
	"github.com/MattCarneiro/forms/internal/validation"
)

// RegisterFormRoutes registers the form API and the public upload
// endpoint. Page rendering and admin gating live outside this service.
func RegisterFormRoutes(r *gin.Engine, svc *forms.Service) {
	v := validation.New()

	api := r.Group("/api")

	api.POST("/forms", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateFormRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		url, err := svc.Create(ctx, forms.CreateInput{
			Type:        req.Type,
			OwnerID:     req.OwnerID,
			SubID:       req.SubID,
			Fields:      req.Fields,
			RedirectURL: req.RedirectURL,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	})

	api.POST("/forms/reset", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.ResetFormRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		url, err := svc.Reset(ctx, req.Link, req.Fields)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, forms.ErrInvalidLink) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": "reset_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	})

	api.DELETE("/forms", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.DeleteFormRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		if err := svc.DeleteByLink(ctx, req.Link); err != nil {
			switch {
			case errors.Is(err, forms.ErrFormNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "form_not_found"})
			case errors.Is(err, forms.ErrInvalidLink):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_link", "detail": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "detail": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "form and files deleted"})
	})

	api.GET("/forms", func(c *gin.Context) {
		records, err := svc.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"forms": records})
	})

	r.GET("/forms/:type/:ownerId/:subId/:code", func(c *gin.Context) {
		key := keyFromPath(c)
		rec, err := svc.Get(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if rec == nil {
			// Completed or unknown forms bounce to the redirect target.
			c.Redirect(http.StatusFound, svc.RedirectURL(c.Request.Context(), key.Type, key.OwnerID, key.SubID))
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/forms/:type/:ownerId/:subId/:code", func(c *gin.Context) {
		ctx := c.Request.Context()
		key := keyFromPath(c)

		field := c.PostForm("field")
		if field == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_field"})
			return
		}
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file", "detail": err.Error()})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file", "detail": err.Error()})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file", "detail": err.Error()})
			return
		}

		err = svc.Upload(ctx, key, field, forms.UploadInput{
			OriginalName: header.Filename,
			Size:         header.Size,
			MimeType:     header.Header.Get("Content-Type"),
			Data:         data,
		})
		if err != nil {
			switch {
			case errors.Is(err, forms.ErrFormNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "form_not_found"})
			case errors.Is(err, forms.ErrUnknownField),
				errors.Is(err, forms.ErrAlreadyUploaded),
				errors.Is(err, forms.ErrDisallowedExtension),
				errors.Is(err, forms.ErrFileTooLarge):
				c.JSON(http.StatusBadRequest, gin.H{"error": "upload_rejected", "detail": err.Error()})
			default:
				log.Error().Err(err).Str("form", key.RecordKey()).Msg("upload enqueue failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			}
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": forms.StatusPending, "field": forms.NormalizeField(field)})
	})

	r.GET("/thanks/:type/:ownerId/:subId", func(c *gin.Context) {
		c.Redirect(http.StatusFound, svc.RedirectURL(c.Request.Context(),
			c.Param("type"), c.Param("ownerId"), c.Param("subId")))
	})
}

func keyFromPath(c *gin.Context) forms.Key {
	return forms.Key{
		Type:    c.Param("type"),
		OwnerID: c.Param("ownerId"),
		SubID:   c.Param("subId"),
		Code:    c.Param("code"),
	}
}
