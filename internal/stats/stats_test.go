package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expvar map names are global to the process, so the updater is built
// once and shared by the subtests.
func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	defer su.Stop()

	su.RegisterMetric(ChatMessages)
	su.RegisterMetric(ActiveRooms)

	t.Run("incr and decr", func(t *testing.T) {
		su.Incr(ChatMessages)
		su.Incr(ChatMessages)
		su.Decr(ChatMessages)

		assert.Eventually(t, func() bool {
			return su.vars.Get(ChatMessages).String() == "1"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("unknown metric is ignored", func(t *testing.T) {
		su.Incr("NoSuchMetric")
		su.Incr(ActiveRooms)

		assert.Eventually(t, func() bool {
			return su.vars.Get(ActiveRooms).String() == "1"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("expvar handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var data map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&data))
		assert.Contains(t, data, ChatMessages)
		assert.Contains(t, data, "Uptime")
	})
}
