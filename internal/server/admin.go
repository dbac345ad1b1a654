package server

import (
	"net/http"
	"sort"

	"tailscale.com/tsweb"

	"github.com/banshee-data/accel.relay/internal/channel"
	"github.com/banshee-data/accel.relay/internal/httputil"
	"github.com/banshee-data/accel.relay/internal/sensor"
	"github.com/banshee-data/accel.relay/internal/version"
)

// AttachAdminRoutes mounts debug endpoints under /debug/ on mux. hub may be
// nil when the sensor is not hub backed.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux, hub *sensor.Hub) {
	debug := tsweb.Debugger(mux)

	debug.KV("Version", version.String())
	debug.KV("Sensor", s.cfg.Factory.Sensor().Type().String())
	debug.KVFunc("Live sessions", func() any { return len(s.Sessions()) })
	debug.KVFunc("Open channels", func() any { return len(s.cfg.Factory.Channels()) })

	debug.HandleFunc("sessions", "live sessions as JSON", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, struct {
			Counters Counters      `json:"counters"`
			Sessions []SessionInfo `json:"sessions"`
		}{s.Counters(), s.Sessions()})
	}))

	debug.HandleFunc("channels", "open channels and their state as JSON", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		chans := s.cfg.Factory.Channels()
		out := make([]channel.Stats, 0, len(chans))
		for _, ch := range chans {
			out = append(out, ch.Stats())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		httputil.WriteJSONOK(w, out)
	}))

	if hub != nil {
		debug.KVFunc("Batches dropped", func() any { return hub.Stats().Dropped })
		debug.HandleFunc("sensor", "sensor hub statistics as JSON", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, hub.Stats())
		}))
	}
}
