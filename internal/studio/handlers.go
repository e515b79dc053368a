package studio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/thinkscotty/glimpse/internal/library"
)

type statusResponse struct {
	State
	Progress float64 `json:"progress"`
}

type generateResponse struct {
	Result TriggerResult  `json:"result"`
	Status statusResponse `json:"status"`
}

func newStatus(st State) statusResponse {
	return statusResponse{State: st, Progress: st.Fraction()}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	st := s.shell.Snapshot()
	s.render(w, "studio", map[string]any{
		"State":    st,
		"Progress": st.Fraction(),
	})
}

// handleGenerate answers JSON to script clients and redirects browsers
// submitting the plain form back to the page.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("file"))
	result := s.shell.Trigger(name)

	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if result == TriggerStarted {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(generateResponse{Result: result, Status: newStatus(s.shell.Snapshot())})
		return
	}
	jsonResponse(w, generateResponse{Result: result, Status: newStatus(s.shell.Snapshot())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	jsonResponse(w, newStatus(s.shell.Snapshot()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	st := s.shell.Snapshot()
	if len(st.Preview) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(st.Preview)))
	w.Write(st.Preview)
}

// handleImage serves the saved image for a catalog document. Names outside
// the catalog are not served.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.catalog.Description(name); !ok {
		http.NotFound(w, r)
		return
	}

	path := library.GeneratedImagePath(s.catalog.Dir(), name)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("Failed to open generated image", "file", name, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		jsonError(w, "Failed to read image", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
