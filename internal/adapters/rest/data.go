package rest

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

var weatherConditions = []string{"Sunny", "Cloudy", "Rainy", "Partly Cloudy", "Clear"}

type mirrorData struct {
	Time      string `json:"time"`
	Date      string `json:"date"`
	Weather   string `json:"weather"`
	Humidity  string `json:"humidity"`
	UpdatedAt string `json:"updated_at"`
}

// MirrorData handles GET /api/data. Weather is mocked until a forecast provider is wired.
func (h *Handler) MirrorData(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, mirrorData{
		Time:      now.Format("15:04:05"),
		Date:      now.Format("2006-01-02"),
		Weather:   fmt.Sprintf("%s %d°C", weatherConditions[rand.Intn(len(weatherConditions))], 15+rand.Intn(15)),
		Humidity:  fmt.Sprintf("%d%%", 30+rand.Intn(61)),
		UpdatedAt: now.Format(time.RFC3339),
	})
}
