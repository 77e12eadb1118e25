// Package portal reads per-room unread message counts from the web portal.
//
// Each fetch runs in its own Session (fresh cookie jar) which is always
// closed before the fetch returns.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"badgewatch/internal/snapshot"
	"badgewatch/internal/subscriber"
	logx "badgewatch/pkg/logx"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL       *url.URL
	LoginPath     string
	ChatPath      string
	UsernameField string
	PasswordField string
	BadgeSelector string
	RoomSelector  string
	UserAgent     string

	// Transport overrides the per-session transport (tests).
	Transport http.RoundTripper
}

type Client struct {
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log}
}

// Apply swaps the portal settings. Sessions already open keep the old ones.
func (c *Client) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// FetchUnreadCounts logs in with creds and returns unread counts per room.
func (c *Client) FetchUnreadCounts(ctx context.Context, creds subscriber.Credentials) (snapshot.Snapshot, error) {
	start := time.Now()
	sess, err := c.Open()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	doc, err := sess.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	snap := sess.UnreadCounts(doc)
	c.log.Debug("unread counts fetched",
		logx.String("login", creds.Login),
		logx.Int("rooms", len(snap)),
		logx.Int("total", snap.Total()),
		logx.Duration("took", time.Since(start)),
	)
	return snap, nil
}

// Session is one authenticated browsing session.
type Session struct {
	cfg       Config
	http      *http.Client
	transport *http.Transport // owned; nil when Config.Transport is set
}

// Open creates a session with an empty cookie jar. Close must be called.
func (c *Client) Open() (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fetchErr(KindTransport, "open", err)
	}
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	s := &Session{cfg: cfg}
	rt := cfg.Transport
	if rt == nil {
		s.transport = http.DefaultTransport.(*http.Transport).Clone()
		rt = s.transport
	}
	s.http = &http.Client{Jar: jar, Transport: rt}
	return s, nil
}

// Close releases connections held by the session. Safe to call twice.
func (s *Session) Close() {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
		s.transport = nil
	}
}

// Login submits the login form and returns the chat page.
func (s *Session) Login(ctx context.Context, creds subscriber.Credentials) (*goquery.Document, error) {
	loginURL := s.resolve(s.cfg.LoginPath)
	page, pageURL, err := s.get(ctx, "login page", loginURL)
	if err != nil {
		return nil, err
	}

	form := findLoginForm(page, s.cfg.UsernameField)
	if form == nil {
		return nil, fetchErr(KindStructure, "login page", fmt.Errorf("no form with field %q", s.cfg.UsernameField))
	}
	action, vals := formValues(form, pageURL)
	vals.Set(s.cfg.UsernameField, creds.Login)
	vals.Set(s.cfg.PasswordField, creds.Password)

	doc, landed, err := s.do(ctx, "login", http.MethodPost, action, strings.NewReader(vals.Encode()))
	if err != nil {
		return nil, err
	}
	if !s.onChat(landed) {
		if findLoginForm(doc, s.cfg.UsernameField) != nil {
			return nil, fetchErr(KindAuth, "login", fmt.Errorf("credentials rejected"))
		}
		doc, landed, err = s.get(ctx, "chat page", s.resolve(s.cfg.ChatPath))
		if err != nil {
			return nil, err
		}
		if !s.onChat(landed) {
			return nil, fetchErr(KindAuth, "chat page", fmt.Errorf("redirected to %s", landed.Path))
		}
	}
	return doc, nil
}

// UnreadCounts extracts per-room counts from a chat page. Badges with
// non-numeric text are ignored.
func (s *Session) UnreadCounts(doc *goquery.Document) snapshot.Snapshot {
	out := snapshot.Snapshot{}
	doc.Find(s.cfg.BadgeSelector).Each(func(i int, badge *goquery.Selection) {
		n, ok := parseCount(badge.Text())
		if !ok {
			return
		}
		name := roomName(badge, s.cfg.RoomSelector, s.cfg.BadgeSelector)
		if name == "" {
			name = fmt.Sprintf("room %d", i+1)
		}
		out[name] += n
	})
	return snapshot.Normalize(out)
}

func (s *Session) onChat(u *url.URL) bool {
	return u != nil && strings.Contains(u.Path, s.cfg.ChatPath)
}

func (s *Session) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		return s.cfg.BaseURL
	}
	return s.cfg.BaseURL.ResolveReference(ref)
}

func (s *Session) get(ctx context.Context, op string, u *url.URL) (*goquery.Document, *url.URL, error) {
	return s.do(ctx, op, http.MethodGet, u, nil)
}

// do performs a request, following redirects, and parses the final page.
// It returns the URL the client ended on.
func (s *Session) do(ctx context.Context, op, method string, u *url.URL, body io.Reader) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, nil, fetchErr(KindTransport, op, err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, nil, transportErr(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, fetchErr(KindAuth, op, fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return nil, nil, fetchErr(KindTransport, op, fmt.Errorf("http %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, transportErr(op, err)
	}
	return doc, resp.Request.URL, nil
}
