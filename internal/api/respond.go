// Package api holds the JSON response envelope shared by every handler.
package api

import (
	"encoding/json"
	"net/http"
)

// Envelope is the wire shape of every response: success plus data/meta, or
// success:false plus error.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ListMeta is the meta block attached to list responses.
type ListMeta struct {
	Count int `json:"count"`
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// Success writes a 200 envelope with data.
func Success(w http.ResponseWriter, data interface{}) {
	write(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// SuccessMeta writes a 200 envelope with data and meta.
func SuccessMeta(w http.ResponseWriter, data, meta interface{}) {
	write(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: meta})
}

// List writes a 200 envelope for a slice, normalizing nil to an empty array
// and attaching a count meta.
func List(w http.ResponseWriter, data interface{}, count int) {
	if count == 0 {
		data = []struct{}{}
	}
	write(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: ListMeta{Count: count}})
}

// Fail writes an expected failure: HTTP 200 with success:false.
func Fail(w http.ResponseWriter, msg string) {
	write(w, http.StatusOK, Envelope{Success: false, Error: msg})
}

// ServerError writes a 500 for unexpected runtime errors.
func ServerError(w http.ResponseWriter, msg string) {
	write(w, http.StatusInternalServerError, Envelope{Success: false, Error: msg})
}

// NotFound writes the 404 envelope for unknown routes.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	write(w, http.StatusNotFound, Envelope{Success: false, Error: "not found"})
}
