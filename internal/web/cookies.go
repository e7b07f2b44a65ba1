package web

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	cookieName   = "staybook_session"
	cookieMaxAge = 24 * time.Hour
)

// cookieStore keeps the booking session id in a signed, encrypted cookie.
type cookieStore struct {
	sc *securecookie.SecureCookie
}

func newCookieStore(hashKey, blockKey []byte) *cookieStore {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(cookieMaxAge.Seconds()))
	return &cookieStore{sc: sc}
}

func (c *cookieStore) set(w http.ResponseWriter, r *http.Request, sessionID string) error {
	encoded, err := c.sc.Encode(cookieName, map[string]string{"sid": sessionID})
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
		MaxAge:   int(cookieMaxAge.Seconds()),
	})
	return nil
}

// get returns the session id, or "" for a missing or tampered cookie.
func (c *cookieStore) get(r *http.Request) string {
	ck, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	val := map[string]string{}
	if err := c.sc.Decode(cookieName, ck.Value, &val); err != nil {
		return ""
	}
	return val["sid"]
}
