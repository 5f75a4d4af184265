// Package devserver is an in-memory stand-in for the dispatch backend: the
// Backend API surface plus the realtime push channel, enough for local
// development and integration tests. Nothing here persists.
package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/safedrive/go-dispatch-client/internal/models"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, apiError{Message: message, Code: code, Status: status})
}

type account struct {
	user     models.User
	password string
}

// Server holds the in-memory world: accounts, tokens, incidents, locations.
type Server struct {
	hub *Hub

	mu        sync.Mutex
	accounts  map[string]*account        // by email
	tokens    map[string]string          // access token -> user id
	refresh   map[string]string          // refresh token -> user id
	incidents map[string]*models.Incident
	locations map[string][]models.DriverLocation
	contacts  map[string][]models.EmergencyContact
}

func New() *Server {
	return &Server{
		hub:       NewHub(),
		accounts:  make(map[string]*account),
		tokens:    make(map[string]string),
		refresh:   make(map[string]string),
		incidents: make(map[string]*models.Incident),
		locations: make(map[string][]models.DriverLocation),
		contacts:  make(map[string][]models.EmergencyContact),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Router builds the gin engine with the full route surface.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-Client-Timestamp"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", func(c *gin.Context) {
		if s.userFor(wsToken(c)) == "" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		s.hub.ServeWs(c.Writer, c.Request)
	})

	api := r.Group("/api")
	api.POST("/auth/login", s.login)
	api.POST("/auth/register", s.register)
	api.POST("/auth/refresh", s.refreshToken)

	authed := api.Group("", s.requireAuth)
	authed.GET("/auth/me", s.me)
	authed.PUT("/users/profile", s.updateProfile)
	authed.GET("/users/emergency-contacts", s.listContacts)
	authed.POST("/users/emergency-contacts", s.addContact)
	authed.DELETE("/users/emergency-contacts/:id", s.deleteContact)

	authed.POST("/emergency/incident", s.createIncident)
	authed.GET("/emergency/incident/:id", s.getIncident)
	authed.GET("/emergency/incidents", s.listIncidents)
	authed.POST("/emergency/accept", s.acceptIncident)
	authed.POST("/emergency/cancel", s.cancelIncident)
	authed.POST("/emergency/incident/:id/notify-contacts", s.notifyContacts)

	authed.GET("/hospital/stats", s.stats)
	authed.GET("/hospital/nearby", s.nearbyHospitals)

	authed.POST("/locations/update", s.updateLocation)
	authed.GET("/locations/history", s.locationHistory)
	authed.GET("/locations/nearby", s.nearbyDrivers)

	// Test hook: push an arbitrary event to every websocket client.
	api.POST("/debug/push", s.debugPush)

	return r
}

func wsToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

func (s *Server) userFor(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

func (s *Server) requireAuth(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	userID := s.userFor(token)
	if userID == "" {
		abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
		return
	}
	c.Set("userID", userID)
	c.Next()
}

// Seed registers an account directly, for tests.
func (s *Server) Seed(user models.User, email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = &account{user: user, password: password}
}

func (s *Server) issueTokens(userID string) (token, refreshToken string) {
	token = uuid.NewString()
	refreshToken = uuid.NewString()
	s.tokens[token] = userID
	s.refresh[refreshToken] = userID
	return token, refreshToken
}

// ExpireTokens invalidates every access token, forcing clients through the
// refresh flow. Test hook.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	if !ok || acct.password != req.Password {
		s.mu.Unlock()
		abortWith(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}
	token, refreshToken := s.issueTokens(acct.user.ID)
	user := acct.user
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"user": user, "token": token, "refreshToken": refreshToken})
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Phone    string `json:"phone"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		abortWith(c, http.StatusConflict, "EMAIL_TAKEN", "an account with this email already exists")
		return
	}
	user := models.User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Role:      models.Role(req.Role),
		CreatedAt: time.Now(),
	}
	s.accounts[req.Email] = &account{user: user, password: req.Password}
	token, refreshToken := s.issueTokens(user.ID)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token, "refreshToken": refreshToken})
}

func (s *Server) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	s.mu.Lock()
	userID, ok := s.refresh[req.RefreshToken]
	if !ok {
		s.mu.Unlock()
		abortWith(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token not recognized")
		return
	}
	token := uuid.NewString()
	s.tokens[token] = userID
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) currentUser(c *gin.Context) (models.User, bool) {
	userID := c.GetString("userID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.user.ID == userID {
			return acct.user, true
		}
	}
	return models.User{}, false
}

func (s *Server) me(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		abortWith(c, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req struct {
		Name  *string `json:"name"`
		Phone *string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	userID := c.GetString("userID")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.user.ID != userID {
			continue
		}
		if req.Name != nil {
			acct.user.Name = *req.Name
		}
		if req.Phone != nil {
			acct.user.Phone = *req.Phone
		}
		c.JSON(http.StatusOK, acct.user)
		return
	}
	abortWith(c, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
}
