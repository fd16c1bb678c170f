package handlers

import (
	"errors"
	"net/http"

	"github.com/Brownie44l1/xray-api/internal/device"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// FileField is the multipart field carrying the uploaded image.
const FileField = "file"

type Handler struct {
	classifier     model.Classifier
	pipeline       preprocess.Pipeline
	device         device.Kind
	maxUploadBytes int64
}

func NewHandler(classifier model.Classifier, pipeline preprocess.Pipeline, kind device.Kind, maxUploadBytes int64) *Handler {
	return &Handler{
		classifier:     classifier,
		pipeline:       pipeline,
		device:         kind,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "device": h.device.String()})
}

// Predict classifies the image uploaded in the "file" form field.
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := c.FormFile(FileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		respondError(c, http.StatusUnprocessableEntity, "a file must be uploaded in the 'file' form field")
		return
	}

	file, err := header.Open()
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("failed to open upload")
		respondError(c, http.StatusInternalServerError, "failed to read upload")
		return
	}
	defer file.Close()

	img, format, err := preprocess.Decode(file)
	if err != nil {
		log.Debug().Err(err).Str("filename", header.Filename).Msg("rejected upload")
		respondError(c, http.StatusBadRequest, "uploaded file is not a valid image")
		return
	}

	log.Debug().
		Str("filename", header.Filename).
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("received image")

	result, err := model.Classify(c.Request.Context(), h.classifier, h.pipeline.Apply(img))
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("prediction failed")
		respondError(c, http.StatusInternalServerError, "prediction failed")
		return
	}

	c.JSON(http.StatusOK, result)
}

func respondError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
