// Package web is the owner-facing inspection surface: log in, submit a
// scheduled booking, watch its status, cancel it. It talks only to the
// booking service and never to the store directly.
package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/example/courtsched/internal/auth"
	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/reserve"
)

//go:embed templates/*.html
var fs embed.FS

// CredentialWriter is the settable half of the credential store; the web
// UI is the only component that writes credentials.
type CredentialWriter interface {
	Set(ctx context.Context, ownerID int64, creds reserve.Credentials) error
}

type Server struct {
	Auth     *auth.Store
	Bookings *booking.Service
	Creds    CredentialWriter
	Log      *zap.SugaredLogger
}

type pageData struct {
	Title    string
	OwnerID  int64
	Flash    string
	Bookings []booking.ScheduledBooking
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/", s.Auth.RequireAuth(http.HandlerFunc(s.handleHome)))
	mux.Handle("/bookings/new", s.Auth.RequireAuth(http.HandlerFunc(s.handleNew)))
	mux.Handle("/bookings/create", s.Auth.RequireAuth(http.HandlerFunc(s.handleCreate)))
	mux.Handle("/bookings/cancel", s.Auth.RequireAuth(http.HandlerFunc(s.handleCancel)))
	mux.Handle("/credentials", s.Auth.RequireAuth(http.HandlerFunc(s.handleCredentials)))

	return mux
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	bs, err := s.Bookings.ListForOwner(r.Context(), ownerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/bookings.html", pageData{
		Title:    "Scheduled bookings",
		OwnerID:  ownerID,
		Flash:    r.URL.Query().Get("flash"),
		Bookings: bs,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "templates/login.html", pageData{Title: "Login"})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.FormValue("username"))
		id, err := s.Auth.Authenticate(r.Context(), username, r.FormValue("password"))
		if err != nil {
			s.render(w, "templates/login.html", pageData{Title: "Login", Flash: "Invalid username/password"})
			return
		}
		if err := s.Auth.SetSession(w, r, id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	s.render(w, "templates/new.html", pageData{Title: "New booking", OwnerID: ownerID})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ownerID, _ := auth.OwnerIDFromContext(r.Context())

	date, err := time.Parse("2006-01-02", r.FormValue("date"))
	if err != nil {
		http.Redirect(w, r, "/?flash="+flash("Date must be YYYY-MM-DD"), http.StatusFound)
		return
	}

	_, err = s.Bookings.Submit(r.Context(), booking.SubmitRequest{
		OwnerID:    ownerID,
		Court:      strings.TrimSpace(r.FormValue("court")),
		TargetDate: date,
		TargetTime: strings.TrimSpace(r.FormValue("time")),
	})
	switch {
	case errors.Is(err, booking.ErrDuplicate):
		http.Redirect(w, r, "/?flash="+flash("You already have a booking scheduled for that slot"), http.StatusFound)
	case errors.Is(err, booking.ErrPastDate):
		http.Redirect(w, r, "/?flash="+flash("That date has already passed"), http.StatusFound)
	case err != nil:
		http.Redirect(w, r, "/?flash="+flash(err.Error()), http.StatusFound)
	default:
		http.Redirect(w, r, "/?flash="+flash("Booking scheduled"), http.StatusFound)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ownerID, _ := auth.OwnerIDFromContext(r.Context())

	ok, err := s.Bookings.Cancel(r.Context(), ownerID, r.FormValue("id"))
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case !ok:
		http.Redirect(w, r, "/?flash="+flash("Too late to cancel, booking already running"), http.StatusFound)
	default:
		http.Redirect(w, r, "/?flash="+flash("Booking cancelled"), http.StatusFound)
	}
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerIDFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		s.render(w, "templates/credentials.html", pageData{Title: "Portal credentials", OwnerID: ownerID})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err := s.Creds.Set(r.Context(), ownerID, reserve.Credentials{
			Username: strings.TrimSpace(r.FormValue("username")),
			Password: r.FormValue("password"),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/?flash="+flash("Portal credentials saved"), http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	t, err := template.ParseFS(fs, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := t.Execute(w, data); err != nil {
		s.Log.Errorw("template render failed", "template", name, "error", err)
	}
}

func flash(msg string) string {
	return template.URLQueryEscaper(msg)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// with a short grace period.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
