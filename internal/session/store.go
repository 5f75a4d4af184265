package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/api"
	"github.com/safedrive/go-dispatch-client/internal/models"
	"github.com/safedrive/go-dispatch-client/internal/realtime"
)

// Channel is the slice of the realtime channel the session drives: connect on
// login, tear down on logout, announce the role after each connect.
type Channel interface {
	Connect(ctx context.Context, token string)
	Close()
	Emit(event string, payload any)
	OnStateChange(fn func(realtime.ConnState))
}

// State is a snapshot of the authenticated identity.
type State struct {
	User          *models.User
	Token         string
	Authenticated bool
}

// Store owns the session: it is the only writer of persisted credentials and
// the only component that connects or disconnects the realtime channel.
type Store struct {
	api     *api.Client
	creds   CredentialRepository
	channel Channel

	mu           sync.Mutex
	user         *models.User
	token        string
	refreshToken string
}

func NewStore(creds CredentialRepository, channel Channel) *Store {
	s := &Store{creds: creds, channel: channel}

	channel.OnStateChange(func(cs realtime.ConnState) {
		if cs.Connected {
			s.announceRole()
		}
	})

	return s
}

// Attach binds the API client after construction; the client needs the store
// as its token source, so the two are wired in this order.
func (s *Store) Attach(client *api.Client) {
	s.api = client
	client.OnTokenRefresh = s.tokenRefreshed
	client.OnAuthExpired = s.Logout
}

// Token implements api.TokenSource.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RefreshToken implements api.TokenSource.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var user *models.User
	if s.user != nil {
		u := *s.user
		user = &u
	}
	return State{User: user, Token: s.token, Authenticated: s.user != nil}
}

func (s *Store) Login(ctx context.Context, creds api.Credentials) (models.User, error) {
	res, err := s.api.Login(ctx, creds)
	if err != nil {
		return models.User{}, err
	}
	s.establish(ctx, res)
	return res.User, nil
}

func (s *Store) Register(ctx context.Context, data api.RegisterData) (models.User, error) {
	res, err := s.api.Register(ctx, data)
	if err != nil {
		return models.User{}, err
	}
	s.establish(ctx, res)
	return res.User, nil
}

// establish commits a successful authentication: state first, then durable
// credentials, then the realtime connection. Failures past the API call leave
// the session usable; persistence errors only cost the next restart.
func (s *Store) establish(ctx context.Context, res api.AuthResult) {
	s.mu.Lock()
	user := res.User
	s.user = &user
	s.token = res.Token
	s.refreshToken = res.RefreshToken
	s.mu.Unlock()

	if err := s.creds.Save(ctx, StoredCredentials{
		UserID:       res.User.ID,
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		SavedAt:      time.Now(),
	}); err != nil {
		slog.Error("persisting credentials failed", "error", err)
	}

	s.channel.Connect(context.Background(), res.Token)
	slog.Info("session established", "user", res.User.ID, "role", res.User.Role)
}

// Restore rehydrates a persisted session at startup. The token is verified
// against the server before the session is considered live.
func (s *Store) Restore(ctx context.Context) error {
	stored, err := s.creds.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = stored.Token
	s.refreshToken = stored.RefreshToken
	s.mu.Unlock()

	user, err := s.api.Me(ctx)
	if err != nil {
		s.mu.Lock()
		s.token = ""
		s.refreshToken = ""
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.user = &user
	token := s.token
	s.mu.Unlock()

	s.channel.Connect(context.Background(), token)
	slog.Info("session restored", "user", user.ID)
	return nil
}

// Logout clears everything synchronously: durable credentials, the realtime
// channel, and in-memory state. No network call is awaited, so the caller is
// never left half logged out.
func (s *Store) Logout() {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.refreshToken = ""
	s.mu.Unlock()

	if err := s.creds.Clear(context.Background()); err != nil {
		slog.Error("clearing credentials failed", "error", err)
	}
	s.channel.Close()
	slog.Info("session cleared")
}

func (s *Store) UpdateProfile(ctx context.Context, update api.ProfileUpdate) (models.User, error) {
	user, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	return user, nil
}

// tokenRefreshed persists a rotated access token and rotates the realtime
// handshake: the channel reconnects with the new token rather than mutating
// the live connection.
func (s *Store) tokenRefreshed(token string) {
	s.mu.Lock()
	s.token = token
	userID := ""
	if s.user != nil {
		userID = s.user.ID
	}
	rt := s.refreshToken
	s.mu.Unlock()

	if userID == "" {
		return
	}

	if err := s.creds.Save(context.Background(), StoredCredentials{
		UserID:       userID,
		Token:        token,
		RefreshToken: rt,
		SavedAt:      time.Now(),
	}); err != nil {
		slog.Error("persisting refreshed token failed", "error", err)
	}

	s.channel.Connect(context.Background(), token)
}

func (s *Store) announceRole() {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return
	}

	switch user.Role {
	case models.RoleHospital:
		s.channel.Emit(realtime.EventHospitalConnect, user.ID)
	case models.RoleResponder:
		s.channel.Emit(realtime.EventResponderConnect, user.ID)
	default:
		s.channel.Emit(realtime.EventDriverConnect, user.ID)
	}
}
