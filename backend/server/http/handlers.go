package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/adwski/waypoint/backend/model"
	"github.com/adwski/waypoint/backend/service"
)

type (
	DescribeResponse struct {
		Description string `json:"description"`
	}
)

func (srv *Server) capabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Data: model.Capabilities{
		Reviews:     srv.reviews.Enabled(),
		Assistant:   srv.places.AssistantEnabled(),
		FuelPrices:  srv.places.FuelEnabled(),
		MapFeatures: srv.places.MapsEnabled(),
	}})
}

func (srv *Server) relayStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.relay.Stats()})
}

func (srv *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := queryLatLon(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviews, err := srv.reviews.List(r.Context(), lat, lon)
	if err != nil {
		srv.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Data: reviews})
}

func (srv *Server) submitReview(w http.ResponseWriter, r *http.Request) {
	var req service.ReviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	srv.logger.Trace().Any("request", req).Msg("got review")

	review, err := srv.reviews.Submit(r.Context(), bearerToken(r), req)
	if err != nil {
		srv.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &GenericResponse{Message: "OK", Data: review})
}

func (srv *Server) fuelPrices(w http.ResponseWriter, r *http.Request) {
	lat, lon, radius, err := queryArea(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := srv.places.FuelPrices(r.Context(), lat, lon, radius)
	if err != nil {
		srv.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Data: res})
}

func (srv *Server) mapFeatures(w http.ResponseWriter, r *http.Request) {
	lat, lon, radius, err := queryArea(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := srv.places.MapFeatures(r.Context(), lat, lon, radius)
	if err != nil {
		srv.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Data: res})
}

func (srv *Server) describePlace(w http.ResponseWriter, r *http.Request) {
	var req service.DescribeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	text, err := srv.places.Describe(r.Context(), req)
	if err != nil {
		srv.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Data: DescribeResponse{Description: text}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func queryLatLon(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		return 0, 0, errors.New("lat and lon query parameters are required")
	}
	return lat, lon, nil
}

// queryArea returns lat, lon and radius in km, zero radius means default.
func queryArea(r *http.Request) (float64, float64, float64, error) {
	lat, lon, err := queryLatLon(r)
	if err != nil {
		return 0, 0, 0, err
	}
	var radius float64
	if raw := r.URL.Query().Get("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			return 0, 0, 0, errors.New("radius must be a number")
		}
	}
	return lat, lon, radius, nil
}
