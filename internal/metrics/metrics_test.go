package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakerStateValueMapsAllStates(t *testing.T) {
	assert.Equal(t, float64(0), BreakerStateValue("closed"))
	assert.Equal(t, float64(1), BreakerStateValue("half-open"))
	assert.Equal(t, float64(2), BreakerStateValue("open"))
	assert.Equal(t, float64(2), BreakerStateValue("unknown"))
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	ActiveRuntimes.Set(3)
	ts := httptest.NewServer(Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
