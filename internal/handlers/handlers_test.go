package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Brownie44l1/xray-api/internal/device"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// meanClassifier scores "Pneumonia" when the image is bright on average,
// so identical inputs always produce identical predictions.
type meanClassifier struct {
	calls  int
	inputs int
	scores []float32
	err    error
}

func (m *meanClassifier) Forward(ctx context.Context, input []float32) ([]float32, error) {
	m.calls++
	m.inputs = len(input)
	if m.err != nil {
		return nil, m.err
	}
	if m.scores != nil {
		return m.scores, nil
	}
	var sum float32
	for _, v := range input {
		sum += v
	}
	mean := sum / float32(len(input))
	return []float32{1 - mean, mean}, nil
}

func newTestRouter(c *meanClassifier, maxUpload int64) *gin.Engine {
	h := NewHandler(c, preprocess.Default(), device.Fallback, maxUpload)
	return NewRouter(h, false)
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func filled(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPredictReturnsIndexAndLabel(t *testing.T) {
	tests := []struct {
		name      string
		img       image.Image
		wantIndex float64
		wantLabel string
	}{
		{"dark image", filled(64, 64, color.Black), 0, "Normal"},
		{"bright image", filled(512, 400, color.White), 1, "Pneumonia"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &meanClassifier{}
			w := serve(newTestRouter(c, 10<<20), uploadRequest(t, FileField, "xray.png", pngBytes(t, tt.img)))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decodeBody(t, w)
			assert.Len(t, body, 2)
			assert.Equal(t, tt.wantIndex, body["prediction_index"])
			assert.Equal(t, tt.wantLabel, body["prediction_label"])
			assert.Equal(t, 3*224*224, c.inputs)
		})
	}
}

func TestPredictAcceptsAnyColourModel(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 30, 90))
	nrgba := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	paletted := image.NewPaletted(image.Rect(0, 0, 300, 20), color.Palette{color.Black, color.White})

	for name, img := range map[string]image.Image{"gray": gray, "nrgba": nrgba, "paletted": paletted} {
		t.Run(name, func(t *testing.T) {
			w := serve(newTestRouter(&meanClassifier{}, 10<<20), uploadRequest(t, FileField, name+".png", pngBytes(t, img)))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decodeBody(t, w)
			assert.Contains(t, body, "prediction_index")
			assert.Contains(t, body, "prediction_label")
		})
	}
}

func TestPredictIsIdempotent(t *testing.T) {
	c := &meanClassifier{}
	router := newTestRouter(c, 10<<20)
	data := pngBytes(t, filled(100, 100, color.RGBA{R: 200, G: 180, B: 190, A: 255}))

	first := serve(router, uploadRequest(t, FileField, "a.png", data))
	second := serve(router, uploadRequest(t, FileField, "a.png", data))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 2, c.calls)
}

func TestPredictUnknownIndex(t *testing.T) {
	c := &meanClassifier{scores: []float32{0.1, 0.2, 0.7}}
	w := serve(newTestRouter(c, 10<<20), uploadRequest(t, FileField, "x.png", pngBytes(t, filled(8, 8, color.White))))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"prediction_index": 2, "prediction_label": "Unknown"}`, w.Body.String())
}

func TestPredictRejectsNonImage(t *testing.T) {
	c := &meanClassifier{}
	w := serve(newTestRouter(c, 10<<20), uploadRequest(t, FileField, "notes.txt", []byte("chest pain, cough, fever")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w), "detail")
	assert.Zero(t, c.calls)
}

func TestPredictRequiresFile(t *testing.T) {
	c := &meanClassifier{}
	router := newTestRouter(c, 10<<20)

	w := serve(router, uploadRequest(t, "image", "x.png", pngBytes(t, filled(4, 4, color.White))))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodPost, "/predict", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, c.calls)
}

func TestPredictRejectsOversizedUpload(t *testing.T) {
	c := &meanClassifier{}
	data := pngBytes(t, filled(256, 256, color.RGBA{R: 1, G: 2, B: 3, A: 255}))
	w := serve(newTestRouter(c, 512), uploadRequest(t, FileField, "big.png", append(data, make([]byte, 4096)...)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, c.calls)
}

func TestPredictInferenceFailure(t *testing.T) {
	c := &meanClassifier{err: errors.New("session run failed")}
	w := serve(newTestRouter(c, 10<<20), uploadRequest(t, FileField, "x.png", pngBytes(t, filled(4, 4, color.White))))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "prediction failed", decodeBody(t, w)["detail"])
}

func TestPredictMethodNotRouted(t *testing.T) {
	w := serve(newTestRouter(&meanClassifier{}, 10<<20), httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	w := serve(newTestRouter(&meanClassifier{}, 10<<20), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "healthy", "device": "cpu"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	w := serve(newTestRouter(&meanClassifier{}, 10<<20), httptest.NewRequest(http.MethodOptions, "/predict", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
