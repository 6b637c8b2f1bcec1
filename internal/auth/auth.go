// Package auth handles owner accounts and cookie sessions for the web
// surface.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/courtsched/internal/db"
)

var ErrBadCredentials = errors.New("invalid username or password")

type Store struct {
	sc *securecookie.SecureCookie
	db *db.DB
}

type ctxKey struct{}

const (
	cookieName = "courtsched_session"
	sessionAge = 14 * 24 * time.Hour
)

func NewStore(d *db.DB, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionAge.Seconds()))
	return &Store{sc: sc, db: d}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// CreateOwner registers an account. telegramChat may be zero when the
// owner has not linked a chat for notifications.
func (s *Store) CreateOwner(ctx context.Context, username, password string, telegramChat int64) (int64, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(ctx, `
INSERT INTO owners(username, password_bcrypt, telegram_chat)
VALUES ($1,$2,NULLIF($3,0))
RETURNING id`, username, hash, telegramChat).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "create owner")
	}
	return id, nil
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash string
	err := s.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM owners WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return 0, ErrBadCredentials
		}
		return 0, errors.Wrap(err, "lookup owner")
	}
	if !CheckPassword(hash, password) {
		return 0, ErrBadCredentials
	}
	return id, nil
}

// TelegramChat returns the owner's linked Telegram chat id, zero when
// none is linked.
func (s *Store) TelegramChat(ctx context.Context, ownerID int64) (int64, error) {
	var chat *int64
	err := s.db.QueryRow(ctx, `SELECT telegram_chat FROM owners WHERE id=$1`, ownerID).Scan(&chat)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "lookup telegram chat")
	}
	if chat == nil {
		return 0, nil
	}
	return *chat, nil
}

type session struct {
	OwnerID int64
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, ownerID int64) error {
	encoded, err := s.sc.Encode(cookieName, session{OwnerID: ownerID})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionAge.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) ownerFromRequest(r *http.Request) (int64, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return 0, false
	}
	var sess session
	if err := s.sc.Decode(cookieName, c.Value, &sess); err != nil || sess.OwnerID <= 0 {
		return 0, false
	}
	return sess.OwnerID, true
}

// RequireAuth redirects unauthenticated requests to the login page and
// puts the owner id on the request context otherwise.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := s.ownerFromRequest(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, ownerID)))
	})
}

func OwnerIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}
