package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"gnomepatch/internal/httpserver/mw"
	"gnomepatch/internal/logger"
	"gnomepatch/internal/worldlist"
)

type directory struct {
	worlds  []byte
	count   int // complete records in worlds
	logger  logger.Logger
	started time.Time
}

func (d *directory) worldsBinary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(d.worlds)))
	w.Header().Set(mw.WorldCountHeader, strconv.Itoa(d.count))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(d.worlds)
}

// worldsJSON serves the decoded list. A truncated list is served up to the
// last complete record.
func (d *directory) worldsJSON(w http.ResponseWriter, r *http.Request) {
	records, err := worldlist.Decode(d.worlds)
	if err != nil {
		d.logger.Warn("world list truncated",
			logger.Int("records", len(records)),
			logger.Error(err))
	}
	for _, rec := range records {
		if rec.Unmatched() {
			d.logger.Warn("world mask matches no world type",
				logger.Int("id", int(rec.ID)),
				logger.Uint32("mask", rec.Mask))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(mw.WorldCountHeader, strconv.Itoa(len(records)))
	_ = json.NewEncoder(w).Encode(worldlist.Project(records))
}

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Bytes         int     `json:"bytes"`
}

func (d *directory) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(healthzResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(d.started).Seconds(),
		Bytes:         len(d.worlds),
	})
}
