package api

import (
	"net/http"

	"github.com/MrWong99/voicepool/pkg/voice"
)

type stateRequest struct {
	State string `json:"state"`
}

// handleState handles PUT /voices/{id}/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req stateRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := voice.ParseState(req.State)
	if err != nil {
		writePoolError(w, err)
		return
	}
	s.apply(w, s.pool.SetVoiceState(h, st))
}

// handleOffsets handles PUT /voices/{id}/offsets.
func (s *Server) handleOffsets(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req offsetsJSON
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, s.pool.SetVoiceOffsets(h, req.offsets()))
}

type loopRequest struct {
	Enabled bool `json:"enabled"`
}

// handleLoop handles PUT /voices/{id}/loop.
func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req loopRequest
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, s.pool.SetVoiceLoop(h, req.Enabled))
}

type offsetRequest struct {
	Offset uint32 `json:"offset"`
}

// handleOffset builds a handler for the single-offset setters.
func (s *Server) handleOffset(set func(voice.Handle, uint32) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := handle(w, r)
		if !ok {
			return
		}
		var req offsetRequest
		if !decode(w, r, &req) {
			return
		}
		s.apply(w, set(h, req.Offset))
	}
}

type ratioRequest struct {
	Ratio float32 `json:"ratio"`
}

// handleRatio handles PUT /voices/{id}/ratio.
func (s *Server) handleRatio(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req ratioRequest
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, s.pool.SetVoiceSrcRatio(h, req.Ratio))
}

// handleMix handles PUT /voices/{id}/mix. An empty channel list unroutes the
// device.
func (s *Server) handleMix(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req routeJSON
	if !decode(w, r, &req) {
		return
	}
	dev, err := voice.ParseDeviceType(req.Device)
	if err != nil {
		writePoolError(w, err)
		return
	}
	mix := make(voice.MixData, len(req.Channels))
	for i, c := range req.Channels {
		mix[i] = voice.ChannelMix{Volume: c.Volume, Delta: c.Delta}
	}
	s.apply(w, s.pool.SetVoiceDeviceMix(h, dev, req.ID, mix))
}

// handleAdpcm handles PUT /voices/{id}/adpcm.
func (s *Server) handleAdpcm(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req adpcmJSON
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, s.pool.SetVoiceAdpcmLoop(h, voice.AdpcmLoop{
		PredScale:   req.PredScale,
		PrevSample0: req.PrevSample0,
		PrevSample1: req.PrevSample1,
	}))
}

// handleVe handles PUT /voices/{id}/ve.
func (s *Server) handleVe(w http.ResponseWriter, r *http.Request) {
	h, ok := handle(w, r)
	if !ok {
		return
	}
	var req envelopeJSON
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, s.pool.SetVoiceVe(h, voice.VolumeEnvelope{Volume: req.Volume, Delta: req.Delta}))
}

// apply writes 204 on success or the mapped error.
func (s *Server) apply(w http.ResponseWriter, err error) {
	if err != nil {
		writePoolError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
