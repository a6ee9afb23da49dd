package diag

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/internal/profile"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Sources are read on every request. Any of the funcs may be nil.
type Sources struct {
	Counters   *Counters
	Store      *profile.Store
	Connection func() contracts.ConnectionState
	Pending    func() int
	Port       func() contracts.PortStatus
}

// Server is the status endpoint. GET /status and GET /status/bindings return JSON;
// /status/ is a human page whose save form is CSRF protected.
type Server struct {
	logger contracts.Logger
	src    Sources
	https  *http.Server
	ln     net.Listener
}

// New builds the router. Call Start to listen.
func New(addr string, l contracts.Logger, src Sources) (*Server, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("csrf key: %w", err)
	}
	s := &Server{
		logger: l,
		src:    src,
		https: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	r := mux.NewRouter()
	r.Methods("GET").Path("/status").HandlerFunc(s.status)
	r.Methods("GET").Path("/status/bindings").HandlerFunc(s.bindings)

	page := r.PathPrefix("/status").Subrouter()
	page.Methods("GET").Path("/").HandlerFunc(s.statusPage)
	page.Methods("POST").Path("/save").HandlerFunc(s.save)
	page.Use(plaintext)
	page.Use(csrf.Protect(key, csrf.Secure(false), csrf.Path("/status")))

	var h http.Handler = r
	// Log after the request is done, in the Apache format.
	h = handlers.LoggingHandler(logger.NewWriter(l, "Status request"), h)
	s.https.Handler = h
	return s, nil
}

// plaintext tells csrf that the endpoint is served without TLS, so Referer checks are skipped.
func plaintext(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

// Handler exposes the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.https.Handler
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.https.Addr)
	if err != nil {
		return fmt.Errorf("status endpoint: %w", err)
	}
	s.ln = ln
	s.logger.Info("Status endpoint listening", s.logger.Field().String("address", ln.Addr().String()))
	go func() {
		if err := s.https.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status endpoint stopped", s.logger.Field().Error("error", err))
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.https.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.https.Shutdown(ctx)
}

type statusDoc struct {
	Connection string            `json:"connection"`
	Pending    int               `json:"pending"`
	Profile    string            `json:"profile"`
	Path       string            `json:"path,omitempty"`
	Generation uint64            `json:"generation"`
	Bindings   int               `json:"bindings"`
	Input      string            `json:"input,omitempty"`
	InputOpen  bool              `json:"input_open"`
	Output     string            `json:"output,omitempty"`
	OutputOpen bool              `json:"output_open"`
	Counters   map[string]uint64 `json:"counters"`
}

type bindingDoc struct {
	Channel   uint8  `json:"channel"`
	Type      string `json:"type"`
	Number    uint8  `json:"number"`
	Command   string `json:"command"`
	Direction string `json:"direction"`
	Mode      string `json:"mode"`
	Trigger   bool   `json:"trigger"`
}

func (s *Server) snapshot() statusDoc {
	doc := statusDoc{Connection: contracts.Disconnected.String()}
	if s.src.Connection != nil {
		doc.Connection = s.src.Connection().String()
	}
	if s.src.Pending != nil {
		doc.Pending = s.src.Pending()
	}
	if s.src.Store != nil {
		gen := s.src.Store.Current()
		doc.Profile = gen.Profile.Name
		doc.Path = gen.Profile.Path
		doc.Generation = gen.ID
		doc.Bindings = gen.Table.Len()
	}
	if s.src.Port != nil {
		st := s.src.Port()
		doc.Input, doc.InputOpen = st.Input, st.InputOpen
		doc.Output, doc.OutputOpen = st.Output, st.OutputOpen
	}
	if s.src.Counters != nil {
		doc.Counters = s.src.Counters.Snapshot()
	}
	return doc
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) bindings(w http.ResponseWriter, r *http.Request) {
	docs := []bindingDoc{}
	if s.src.Store != nil {
		for _, b := range s.src.Store.Current().Table.Bindings() {
			docs = append(docs, bindingDoc{
				Channel:   b.Address.Channel,
				Type:      b.Address.Type.String(),
				Number:    b.Address.Number,
				Command:   string(b.Command),
				Direction: b.Direction.String(),
				Mode:      b.Mode.String(),
				Trigger:   b.IsTrigger(),
			})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html><head><title>midibridge status</title></head>
<body>
<h1>{{.Status.Profile}} (generation {{.Status.Generation}})</h1>
<p>Host: {{.Status.Connection}}, {{.Status.Pending}} pending</p>
<p>Input: {{.Status.Input}} ({{if .Status.InputOpen}}open{{else}}closed{{end}}),
Output: {{.Status.Output}} ({{if .Status.OutputOpen}}open{{else}}closed{{end}})</p>
<table>{{range $name, $value := .Status.Counters}}<tr><td>{{$name}}</td><td>{{$value}}</td></tr>{{end}}</table>
<form method="POST" action="/status/save">{{.CSRFField}}<button type="submit">Save profile</button></form>
</body></html>
`))

func (s *Server) statusPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Status    statusDoc
		CSRFField template.HTML
	}{
		Status:    s.snapshot(),
		CSRFField: csrf.TemplateField(r),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		s.logger.Error("Status page failed", s.logger.Field().Error("error", err))
	}
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	if s.src.Store == nil {
		respondError(w, http.StatusServiceUnavailable, fmt.Errorf("no profile store"))
		return
	}
	if err := s.src.Store.Save(""); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	http.Redirect(w, r, "/status/", http.StatusSeeOther)
}

func respondError(w http.ResponseWriter, code int, err error) {
	type jsonError struct {
		Error string `json:"error"`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(jsonError{
		Error: err.Error(),
	})
}
