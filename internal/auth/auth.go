// Package auth implements the permission model: level lookup, per-user rate
// limiting, and admin-approved sudo escalation.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PermissionLevel orders users from public to admin.
type PermissionLevel int

const (
	LevelPublic   PermissionLevel = 0
	LevelTrusted  PermissionLevel = 1
	LevelOperator PermissionLevel = 2
	LevelAdmin    PermissionLevel = 3
)

// String returns the level name.
func (l PermissionLevel) String() string {
	switch l {
	case LevelPublic:
		return "PUBLIC"
	case LevelTrusted:
		return "TRUSTED"
	case LevelOperator:
		return "OPERATOR"
	case LevelAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

var (
	// ErrNotFound is returned when a sudo request id does not exist.
	ErrNotFound = errors.New("sudo request not found")
	// ErrPermissionDenied is returned when the caller lacks the level an
	// operation requires.
	ErrPermissionDenied = errors.New("permission denied")
)

// WebhookUserID is the synthetic sender attached to webhook-derived messages.
// It is granted operator level at construction so webhook turns can use
// operator tools.
const WebhookUserID = "webhook"

// Config holds the auth lists and limits. Entries are either
// "platform:user_id" or a bare "user_id" that matches on any platform.
type Config struct {
	AdminUsers         []string `yaml:"admin_users" envconfig:"ADMIN_USERS"`
	OperatorUsers      []string `yaml:"operator_users" envconfig:"OPERATOR_USERS"`
	TrustedUsers       []string `yaml:"trusted_users" envconfig:"TRUSTED_USERS"`
	DefaultLevel       int      `yaml:"default_level" envconfig:"DEFAULT_LEVEL"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" envconfig:"RATE_LIMIT_PER_MINUTE"`
	SudoTimeoutSeconds int      `yaml:"sudo_timeout_seconds" envconfig:"SUDO_TIMEOUT_SECONDS"`
}

type userKey struct {
	platform string
	userID   string
}

type sudoGrant struct {
	level  PermissionLevel
	expiry time.Time
}

type sudoRequest struct {
	platform string
	userID   string
	level    PermissionLevel
	action   string
}

// Manager answers permission, rate-limit, and sudo questions. All state is
// process-local and safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	exact map[userKey]PermissionLevel
	bare  map[string]PermissionLevel

	defaultLevel PermissionLevel

	rateLimit int
	rateLog   map[userKey][]time.Time

	sudoTimeout time.Duration
	sudoGrants  map[userKey]sudoGrant
	pendingSudo map[string]sudoRequest
	sudoCounter int

	now func() time.Time
}

// NewManager builds the user map from the configured lists. When the same
// identity appears in several lists the first (highest) match wins.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		exact:        make(map[userKey]PermissionLevel),
		bare:         make(map[string]PermissionLevel),
		defaultLevel: PermissionLevel(cfg.DefaultLevel),
		rateLimit:    cfg.RateLimitPerMinute,
		rateLog:      make(map[userKey][]time.Time),
		sudoTimeout:  time.Duration(cfg.SudoTimeoutSeconds) * time.Second,
		sudoGrants:   make(map[userKey]sudoGrant),
		pendingSudo:  make(map[string]sudoRequest),
		now:          time.Now,
	}
	if m.rateLimit <= 0 {
		m.rateLimit = 20
	}
	if m.sudoTimeout <= 0 {
		m.sudoTimeout = 5 * time.Minute
	}

	for _, uid := range cfg.AdminUsers {
		m.store(uid, LevelAdmin)
	}
	for _, uid := range cfg.OperatorUsers {
		m.store(uid, LevelOperator)
	}
	for _, uid := range cfg.TrustedUsers {
		m.store(uid, LevelTrusted)
	}

	// Webhook-derived messages run with operator permission.
	if _, ok := m.bare[WebhookUserID]; !ok {
		m.bare[WebhookUserID] = LevelOperator
	}
	return m
}

func (m *Manager) store(uid string, level PermissionLevel) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return
	}
	if platform, userID, ok := strings.Cut(uid, ":"); ok {
		key := userKey{platform, userID}
		if _, exists := m.exact[key]; !exists {
			m.exact[key] = level
		}
		return
	}
	if _, exists := m.bare[uid]; !exists {
		m.bare[uid] = level
	}
}

// Level returns the user's effective permission level, honoring any active
// sudo grant. Expired grants revert silently to the base level.
func (m *Manager) Level(platform, userID string) PermissionLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelLocked(platform, userID)
}

func (m *Manager) levelLocked(platform, userID string) PermissionLevel {
	key := userKey{platform, userID}

	if grant, ok := m.sudoGrants[key]; ok {
		if m.now().Before(grant.expiry) {
			return grant.level
		}
		delete(m.sudoGrants, key)
		slog.Info("Sudo grant expired", "platform", platform, "user", userID)
	}

	if level, ok := m.exact[key]; ok {
		return level
	}
	if level, ok := m.bare[userID]; ok {
		return level
	}
	return m.defaultLevel
}

// CheckPermission reports whether the user meets the required level.
func (m *Manager) CheckPermission(platform, userID string, required PermissionLevel) bool {
	return m.Level(platform, userID) >= required
}

// CheckRateLimit reports whether the user is within the per-minute budget.
// A denied call does not consume budget.
func (m *Manager) CheckRateLimit(platform, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey{platform, userID}
	now := m.now()
	windowStart := now.Add(-time.Minute)

	kept := m.rateLog[key][:0]
	for _, t := range m.rateLog[key] {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	m.rateLog[key] = kept

	if len(kept) >= m.rateLimit {
		slog.Warn("Rate limit exceeded", "platform", platform, "user", userID)
		return false
	}

	m.rateLog[key] = append(kept, now)
	return true
}

// RequestSudo records a pending escalation and returns its request id.
func (m *Manager) RequestSudo(platform, userID, action string, level PermissionLevel) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sudoCounter++
	id := fmt.Sprintf("sudo-%d", m.sudoCounter)
	m.pendingSudo[id] = sudoRequest{platform: platform, userID: userID, level: level, action: action}

	slog.Info("Sudo requested", "id", id, "platform", platform, "user", userID, "level", level.String(), "action", action)
	return id
}

// ApproveSudo grants the pending request. The approver must be an admin.
// An active grant for the same user is replaced, extending the window.
func (m *Manager) ApproveSudo(id, adminPlatform, adminID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.levelLocked(adminPlatform, adminID) < LevelAdmin {
		slog.Warn("Sudo approval denied", "admin", adminID, "reason", "not admin")
		return ErrPermissionDenied
	}

	req, ok := m.pendingSudo[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.pendingSudo, id)

	m.sudoGrants[userKey{req.platform, req.userID}] = sudoGrant{
		level:  req.level,
		expiry: m.now().Add(m.sudoTimeout),
	}
	slog.Info("Sudo approved", "id", id, "user", req.userID, "level", req.level.String())
	return nil
}

// DenySudo removes a pending request.
func (m *Manager) DenySudo(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pendingSudo[id]; !ok {
		return ErrNotFound
	}
	delete(m.pendingSudo, id)
	slog.Info("Sudo denied", "id", id)
	return nil
}

// RevokeSudo cancels an active grant. Returns true if one existed.
func (m *Manager) RevokeSudo(platform, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey{platform, userID}
	if _, ok := m.sudoGrants[key]; !ok {
		return false
	}
	delete(m.sudoGrants, key)
	slog.Info("Sudo revoked", "platform", platform, "user", userID)
	return true
}

// PendingSudoRequest describes one awaiting escalation.
type PendingSudoRequest struct {
	ID       string
	Platform string
	UserID   string
	Level    PermissionLevel
	Action   string
}

// ListPendingSudo returns all pending requests.
func (m *Manager) ListPendingSudo() []PendingSudoRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingSudoRequest, 0, len(m.pendingSudo))
	for id, req := range m.pendingSudo {
		out = append(out, PendingSudoRequest{
			ID:       id,
			Platform: req.platform,
			UserID:   req.userID,
			Level:    req.level,
			Action:   req.action,
		})
	}
	return out
}
