package predictor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/predictor"
	"github.com/heliostrading/core/pkg/types"
)

func TestPredictParsesModelResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"class":         "BUY",
			"probabilities": map[string]float64{"BUY": 0.7, "SELL": 0.1, "HOLD": 0.2},
			"confidence":    0.7,
			"model_version": "v1",
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	client := predictor.New(zap.NewNop(), srv.URL)
	pred, err := client.Predict(context.Background(), "BTCZAR")
	require.NoError(t, err)
	assert.Equal(t, types.SignalBuy, pred.Class)
	assert.Equal(t, "v1", pred.ModelVersion)
	assert.True(t, client.Healthy())
}

func TestPredictRejectsUnrecognizedClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"class": "BOGUS"})
	}))
	defer srv.Close()

	client := predictor.New(zap.NewNop(), srv.URL)
	_, err := client.Predict(context.Background(), "BTCZAR")
	require.Error(t, err)
}

func TestPredictTransportFailureReturnsError(t *testing.T) {
	client := predictor.New(zap.NewNop(), "http://127.0.0.1:1")
	_, err := client.Predict(context.Background(), "BTCZAR")
	require.Error(t, err)
}
