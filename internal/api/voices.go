package api

import (
	"net/http"
	"strconv"

	"github.com/MrWong99/voicepool/internal/render"
	"github.com/MrWong99/voicepool/pkg/voice"
)

type acquireRequest struct {
	Priority uint32 `json:"priority"`
	Owner    string `json:"owner"`

	// Extended selects the callback form that also reports the reason and
	// the displacing priority.
	Extended bool `json:"extended"`
}

type acquireResponse struct {
	ID string `json:"id"`
}

type offsetsJSON struct {
	Looping       bool   `json:"looping"`
	LoopOffset    uint32 `json:"loop_offset"`
	EndOffset     uint32 `json:"end_offset"`
	CurrentOffset uint32 `json:"current_offset"`
	Data          uint32 `json:"data"`
}

func (o offsetsJSON) offsets() voice.Offsets {
	return voice.Offsets{
		Looping:       o.Looping,
		LoopOffset:    o.LoopOffset,
		EndOffset:     o.EndOffset,
		CurrentOffset: o.CurrentOffset,
		Data:          voice.DataRef(o.Data),
	}
}

type channelJSON struct {
	Volume uint16 `json:"volume"`
	Delta  int16  `json:"delta"`
}

type routeJSON struct {
	Device   string        `json:"device"`
	ID       uint32        `json:"id"`
	Channels []channelJSON `json:"channels"`
}

type adpcmJSON struct {
	PredScale   uint16 `json:"pred_scale"`
	PrevSample0 int16  `json:"prev_sample0"`
	PrevSample1 int16  `json:"prev_sample1"`
}

type envelopeJSON struct {
	Volume uint16 `json:"volume"`
	Delta  int16  `json:"delta"`
}

type voiceResponse struct {
	ID       string       `json:"id"`
	Owner    string       `json:"owner,omitempty"`
	Priority uint32       `json:"priority"`
	State    string       `json:"state"`
	Offsets  offsetsJSON  `json:"offsets"`
	SrcRatio float32      `json:"src_ratio"`
	Routes   []routeJSON  `json:"routes"`
	Adpcm    adpcmJSON    `json:"adpcm"`
	Envelope envelopeJSON `json:"envelope"`
	Notifies bool         `json:"notifies"`
}

func (s *Server) voiceJSON(info voice.Info) voiceResponse {
	routes := make([]routeJSON, 0, len(info.Routes))
	for _, rt := range info.Routes {
		chans := make([]channelJSON, len(rt.Mix))
		for i, c := range rt.Mix {
			chans[i] = channelJSON{Volume: c.Volume, Delta: c.Delta}
		}
		routes = append(routes, routeJSON{Device: rt.Device.String(), ID: rt.ID, Channels: chans})
	}
	o := info.Offsets
	return voiceResponse{
		ID:       info.Handle.String(),
		Owner:    s.owner(info.Handle),
		Priority: info.Priority,
		State:    info.State.String(),
		Offsets: offsetsJSON{
			Looping:       o.Looping,
			LoopOffset:    o.LoopOffset,
			EndOffset:     o.EndOffset,
			CurrentOffset: o.CurrentOffset,
			Data:          uint32(o.Data),
		},
		SrcRatio: info.SrcRatio,
		Routes:   routes,
		Adpcm: adpcmJSON{
			PredScale:   info.AdpcmLoop.PredScale,
			PrevSample0: info.AdpcmLoop.PrevSample0,
			PrevSample1: info.AdpcmLoop.PrevSample1,
		},
		Envelope: envelopeJSON{Volume: info.Envelope.Volume, Delta: info.Envelope.Delta},
		Notifies: info.Notifies,
	}
}

// handleAcquire handles POST /voices.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		h  voice.Handle
		ok bool
	)
	owner := Owner(req.Owner)
	if req.Extended {
		h, ok = s.pool.AcquireVoiceEx(req.Priority, s.notified, owner)
	} else {
		h, ok = s.pool.AcquireVoice(req.Priority, func(v voice.Handle, context any) {
			s.notified(v, context, 0, 0)
		}, owner)
	}
	if !ok {
		writeError(w, http.StatusConflict, "no voice available at this priority")
		return
	}
	s.setOwner(h, req.Owner)
	// The voice may already have been evicted and notified.
	if _, err := s.pool.Voice(h); err != nil {
		s.dropOwner(h)
	}

	w.Header().Set("Location", "/voices/"+h.String())
	writeJSON(w, http.StatusCreated, acquireResponse{ID: h.String()})
}

// handleList handles GET /voices.
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	snap := s.pool.Snapshot()
	out := make([]voiceResponse, len(snap))
	for i, info := range snap {
		out[i] = s.voiceJSON(info)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGet handles GET /voices/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	info, err := s.pool.Voice(h)
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.voiceJSON(info))
}

// handleFree handles DELETE /voices/{id}.
func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	if err := s.pool.FreeVoice(h); err != nil {
		writePoolError(w, err)
		return
	}
	s.dropOwner(h)
	w.WriteHeader(http.StatusNoContent)
}

// handleRecord handles GET /voices/{id}/record. The optional "base" query
// parameter (decimal or 0x-prefixed) is the address of record 0 used to
// encode the link fields.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var base uint32
	if q := r.URL.Query().Get("base"); q != "" {
		v, err := strconv.ParseUint(q, 0, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base: "+err.Error())
			return
		}
		base = uint32(v)
	}
	img, err := s.pool.MarshalVoice(h, base)
	if err != nil {
		writePoolError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	_, _ = w.Write(img)
}

type poolResponse struct {
	MaxVoices uint32            `json:"max_voices"`
	Free      int               `json:"free"`
	Active    int               `json:"active"`
	TieBreak  string            `json:"tie_break"`
	SrcRatio  ratioBounds       `json:"src_ratio"`
	Buses     []render.BusLevel `json:"buses,omitempty"`
}

type ratioBounds struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// handlePool handles GET /pool.
func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	st := s.pool.Stats()
	b := s.pool.RatioBounds()
	res := poolResponse{
		MaxVoices: st.MaxVoices,
		Free:      st.Free,
		Active:    st.Active,
		TieBreak:  s.pool.TieBreak().String(),
		SrcRatio:  ratioBounds{Min: b.Min, Max: b.Max},
	}
	if s.levels != nil {
		res.Buses = s.levels.Levels()
	}
	writeJSON(w, http.StatusOK, res)
}
