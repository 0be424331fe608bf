package imu

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/arduimu/internal/httputil"
	"github.com/banshee-data/arduimu/internal/packet"
	"github.com/banshee-data/arduimu/internal/store"
	"github.com/banshee-data/arduimu/internal/version"
)

// streamView is the JSON form of one store entry.
type streamView struct {
	SensorID     int       `json:"sensor_id"`
	Variant      string    `json:"variant"`
	Code         string    `json:"code"`
	Timestamp    int64     `json:"timestamp"`
	Latency      *int64    `json:"latency,omitempty"`
	Count        uint64    `json:"count"`
	ReceivedAt   time.Time `json:"received_at"`
	Orientation  []float64 `json:"orientation,omitempty"`
	Acceleration []float64 `json:"acceleration,omitempty"`
	RawFields    []string  `json:"raw_fields,omitempty"`
	RawBytes     []byte    `json:"raw_bytes,omitempty"`
}

func newStreamView(e store.Entry) streamView {
	p := e.Packet
	v := streamView{
		SensorID:   e.Key.SensorID,
		Variant:    e.Key.Variant.String(),
		Code:       string(rune(p.Header.Code)),
		Timestamp:  p.Timestamp(),
		Count:      e.Count,
		ReceivedAt: e.ReceivedAt,
	}
	if e.HasLatency {
		lat := e.Latency
		v.Latency = &lat
	}
	if q, ok := p.Orientation(); ok {
		v.Orientation = []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
	}
	if a, ok := p.Acceleration(); ok {
		v.Acceleration = []float64{a.X, a.Y, a.Z}
	}
	if raw, ok := p.Payload.(packet.RawPayload); ok {
		v.RawFields = raw.Fields
		v.RawBytes = raw.Bytes
	}
	return v
}

func (d *Device) streams() []streamView {
	snap := d.store.Snapshot()
	out := make([]streamView, 0, len(snap))
	for _, e := range snap {
		out = append(out, newStreamView(e))
	}
	return out
}

// AttachAdminRoutes attaches the device debug endpoints to mux under
// /debug/. tsweb restricts them to loopback and tailnet clients.
func (d *Device) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KV("Build", version.String())
	debug.KVFunc("IMU connected", func() any { return d.IsConnected() })
	debug.KVFunc("IMU streams", func() any { return d.store.Len() })

	debug.HandleFunc("imu", "IMU session status and latest packets", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, struct {
			Status  Status       `json:"status"`
			Streams []streamView `json:"streams"`
		}{d.Status(), d.streams()})
	})

	// API endpoint returning the orientation state of one sensor
	debug.HandleSilentFunc("imu/sensor", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.URL.Query().Get("id"))
		if err != nil {
			httputil.BadRequest(w, "missing or invalid id")
			return
		}
		q := d.Orientation(id)
		resp := map[string]any{
			"sensor_id":   id,
			"orientation": []float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		}
		if a, ok := d.UnwoundAcceleration(id); ok {
			resp["unwound_acceleration"] = []float64{a.X, a.Y, a.Z}
		}
		if ref, set := d.engine.Reference(id); set {
			resp["reference"] = []float64{ref.Real, ref.Imag, ref.Jmag, ref.Kmag}
		}
		httputil.WriteJSONOK(w, resp)
	})

	// API endpoint to force a reconnect attempt, subject to the throttle
	debug.HandleSilentFunc("imu/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		attempted, err := d.Reconnect()
		if err != nil {
			httputil.BadGateway(w, fmt.Sprintf("reconnect failed: %v", err))
			return
		}
		httputil.WriteJSONOK(w, map[string]bool{"attempted": attempted, "connected": d.IsConnected()})
	})

	// API endpoint streaming store snapshots as Server-Sent Events
	debug.HandleSilentFunc("imu/tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		interval := 200 * time.Millisecond
		if v := r.URL.Query().Get("interval"); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil && parsed >= 10*time.Millisecond {
				interval = parsed
			}
		}

		stream, ok := httputil.StartEventStream(w)
		if !ok {
			return
		}

		ticker := d.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := stream.Send(d.streams()); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}
