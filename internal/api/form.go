package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"recipecatalog/internal/platform/imagestore"
	"recipecatalog/internal/recipe"
)

const imageField = "image"

var errMalformedLists = &recipe.ValidationError{Msg: "Invalid instructions or ingredients format"}

// bindSpec reads a recipe from a multipart or urlencoded form. A JSON body
// is accepted too, in which case no image can be attached.
func (h *Handler) bindSpec(c *gin.Context) (*recipe.Spec, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	spec := &recipe.Spec{}
	if c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(spec); err != nil {
			return nil, requestBodyErr(err)
		}
		return spec, spec.Validate()
	}

	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, requestBodyErr(err)
	}

	spec.Name = c.PostForm("name")

	var err error
	var invalid []string
	if spec.CategoryID, err = formInt64(c, "category_id"); err != nil {
		invalid = append(invalid, "category_id")
	}
	for _, f := range []struct {
		name string
		dst  **int
	}{
		{"prep_time", &spec.PrepTime},
		{"cook_time", &spec.CookTime},
		{"servings", &spec.Servings},
	} {
		if *f.dst, err = formOptionalInt(c, f.name); err != nil {
			invalid = append(invalid, f.name)
		}
	}
	if len(invalid) > 0 {
		return nil, &recipe.ValidationError{Msg: "Invalid fields: " + strings.Join(invalid, ", ")}
	}

	if raw := strings.TrimSpace(c.PostForm("instructions")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &spec.Instructions); err != nil {
			return nil, errMalformedLists
		}
	}
	if raw := strings.TrimSpace(c.PostForm("ingredients")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &spec.Ingredients); err != nil {
			return nil, errMalformedLists
		}
	}

	return spec, spec.Validate()
}

// attachImage stores the uploaded image, if any, and records its filename on spec.
func (h *Handler) attachImage(ctx context.Context, c *gin.Context, spec *recipe.Spec) error {
	if c.ContentType() != binding.MIMEMultipartPOSTForm {
		return nil
	}
	header, err := c.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return requestBodyErr(err)
	}
	if err := imagestore.CheckExtension(header.Filename); err != nil {
		return err
	}

	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded image: %w", err)
	}
	defer src.Close()

	filename, err := h.Images.Save(ctx, header.Filename, src)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	spec.ImageFilename = filename
	h.log.WithField("image", filename).Debug("image stored")
	return nil
}

// discardImage removes an image whose recipe write failed.
func (h *Handler) discardImage(ctx context.Context, filename string) {
	if filename == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := h.Images.Remove(ctx, filename); err != nil {
		h.log.WithError(err).WithField("image", filename).Warn("failed to remove orphaned image")
	}
}

func requestBodyErr(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return &recipe.ValidationError{Msg: "Invalid request body"}
}

func formInt64(c *gin.Context, field string) (int64, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// formOptionalInt returns nil for an absent or empty field.
func formOptionalInt(c *gin.Context, field string) (*int, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
