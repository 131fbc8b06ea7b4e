// internal/backend/backendtest/server.go

// Package backendtest provides an in-process generation backend for tests.
// It follows the wire contract of the real backend: every generated image gets
// a fresh URL, add-shot fills the same defaults, and errors use {"error": "..."}.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/Corphon/StoryboardStudio/internal/models"
)

// Server is a fake generation backend
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	storyboard []models.Scene
	failures   map[string]int
	gates      map[string]chan struct{}
	requests   map[string][]json.RawMessage
	images     int
}

// NewServer starts a fake backend returning board from /generate-storyboard
func NewServer(board []models.Scene) *Server {
	s := &Server{
		storyboard: board,
		failures:   make(map[string]int),
		gates:      make(map[string]chan struct{}),
		requests:   make(map[string][]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/generate-storyboard", s.handle(s.generateStoryboard))
	mux.HandleFunc("/regenerate-scene", s.handle(s.regenerateScene))
	mux.HandleFunc("/regenerate-shot", s.handle(s.regenerateShot))
	mux.HandleFunc("/add-shot", s.handle(s.addShot))
	s.Server = httptest.NewServer(mux)
	return s
}

// SetStoryboard changes the scenes returned by the next generation
func (s *Server) SetStoryboard(board []models.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storyboard = board
}

// FailNext makes the next call to path answer with status
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Hold blocks every call to path until the returned release func runs
func (s *Server) Hold(path string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[path] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[path] == gate {
				delete(s.gates, path)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns the raw bodies received on path
func (s *Server) Requests(path string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.requests[path]...)
}

type handlerFunc func(body json.RawMessage) (interface{}, error)

func (s *Server) handle(next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		s.mu.Lock()
		s.requests[r.URL.Path] = append(s.requests[r.URL.Path], body)
		gate := s.gates[r.URL.Path]
		status, failing := s.failures[r.URL.Path]
		delete(s.failures, r.URL.Path)
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		if failing {
			writeJSON(w, status, map[string]string{"error": "generation failed"})
			return
		}

		result, err := next(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) nextImage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images++
	return fmt.Sprintf("https://images.test/%d.png", s.images)
}

func (s *Server) generateStoryboard(json.RawMessage) (interface{}, error) {
	s.mu.Lock()
	board := make([]models.Scene, len(s.storyboard))
	for i, scene := range s.storyboard {
		board[i] = scene.Clone()
	}
	s.mu.Unlock()

	for i := range board {
		for j := range board[i].Shots {
			board[i].Shots[j].ImageURL = s.nextImage()
		}
	}
	return map[string]interface{}{"storyboard": board}, nil
}

func (s *Server) regenerateScene(body json.RawMessage) (interface{}, error) {
	var req models.RegenerateSceneRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	for i := range req.Scene.Shots {
		req.Scene.Shots[i].ImageURL = s.nextImage()
	}
	return req.Scene, nil
}

func (s *Server) regenerateShot(body json.RawMessage) (interface{}, error) {
	var req models.RegenerateShotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	req.Shot.ImageURL = s.nextImage()
	return req.Shot, nil
}

func (s *Server) addShot(body json.RawMessage) (interface{}, error) {
	var req models.AddShotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	description := req.Description
	if description == "" {
		description = "New action shot"
	}
	return models.Shot{
		FrameNumber: req.FrameNumber,
		Description: description,
		CameraAngle: req.Camera,
		ShotType:    "static",
		Emotion:     "neutral",
		Dialogue:    "",
		ImageURL:    s.nextImage(),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// SampleStoryboard returns three scenes in shuffled label order, as the legacy
// backend sometimes produced them
func SampleStoryboard() []models.Scene {
	return []models.Scene{
		{
			SceneNumber: 3, Label: "Scene 3", Title: "The Escape",
			Shots: []models.Shot{
				{FrameNumber: 1, Description: "Wide shot of the harbour", CameraAngle: "wide", ShotType: "establishing", Emotion: "tense", Dialogue: "none"},
				{FrameNumber: 2, Description: "Hero leaps aboard", CameraAngle: "low", ShotType: "action", Emotion: "determined", Dialogue: "Now or never!"},
			},
		},
		{
			SceneNumber: 1, Label: "Scene 1", Title: "The Call",
			Shots: []models.Shot{
				{FrameNumber: 1, Description: "A quiet village at dawn", CameraAngle: "wide", ShotType: "establishing", Emotion: "calm"},
				{FrameNumber: 2, Description: "A letter arrives", CameraAngle: "close-up", ShotType: "insert", Emotion: "curious", Dialogue: "NONE"},
				{FrameNumber: 3, Description: "Hero reads the letter", CameraAngle: "medium", ShotType: "reaction", Emotion: "worried", Dialogue: "It can't be."},
			},
		},
		{
			SceneNumber: 2, Label: "Scene 2", Title: "The Journey",
			Shots: []models.Shot{
				{FrameNumber: 1, Description: "Road through the hills", CameraAngle: "aerial", ShotType: "travel", Emotion: "hopeful"},
				{FrameNumber: 2, Description: "Campfire at night", CameraAngle: "medium", ShotType: "static", Emotion: "warm"},
			},
		},
	}
}
