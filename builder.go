package authority

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authority/internal/audit"
	"github.com/MrEthical07/authority/internal/rate"
	"github.com/MrEthical07/authority/oauth"
	"github.com/MrEthical07/authority/permission"
	"github.com/MrEthical07/authority/revocation"
	"github.com/MrEthical07/authority/session"
	"github.com/MrEthical07/authority/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Authority]. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	permissions []string
	roles       map[string][]string

	provider  IdentityProvider
	directory Directory
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPermissions registers the permission names roles may reference.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = append([]string(nil), perms...)
	return b
}

// WithRoles binds role names to permission names.
func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = make(map[string][]string, len(r))
	for role, perms := range r {
		b.roles[role] = append([]string(nil), perms...)
	}
	return b
}

// WithProvider sets the identity provider. Without one, InitiateLogin and
// HandleCallback return ErrLoginUnavailable.
func (b *Builder) WithProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithDirectory sets the principal directory. Required with a provider.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. Defaults to discarding.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Authority, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.provider != nil && b.directory == nil {
		return nil, errors.New("identity provider requires a directory")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// -------- PERMISSION REGISTRY --------
	registry := permission.NewRegistry(cfg.Permission.RootBitReserved)
	for _, p := range b.permissions {
		if _, err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	// -------- ROLE MANAGER --------
	roleManager := permission.NewRoleManager(registry)
	for roleName, permList := range b.roles {
		if err := roleManager.RegisterRole(roleName, permList); err != nil {
			return nil, err
		}
	}
	roleManager.Freeze()

	// -------- TOKENS --------
	tokens, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	a := &Authority{
		config:      cfg,
		tokens:      tokens,
		registry:    registry,
		roleManager: roleManager,
		directory:   b.directory,
		logger:      logger,
		now:         now,
	}

	// -------- STORES --------
	a.sessions = session.NewStore(b.redis, session.Config{
		KeyPrefix:        cfg.Store.KeyPrefix,
		MaxPerPrincipal:  cfg.Session.MaxConcurrent,
		AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
		Now:              now,
	})
	a.revocations = revocation.NewRegistry(b.redis, cfg.Store.KeyPrefix, now)

	if cfg.RateLimit.Enabled {
		a.limiter = rate.New(b.redis, cfg.Store.KeyPrefix, map[string]rate.Policy{
			rate.OpLogin:    {Limit: cfg.RateLimit.Login.Limit, Window: cfg.RateLimit.Login.Window},
			rate.OpCallback: {Limit: cfg.RateLimit.Callback.Limit, Window: cfg.RateLimit.Callback.Window},
			rate.OpRefresh:  {Limit: cfg.RateLimit.Refresh.Limit, Window: cfg.RateLimit.Refresh.Window},
		})
	}

	// -------- OAUTH --------
	if b.provider != nil {
		coord, err := oauth.NewCoordinator(
			b.provider,
			oauth.NewStateStore(b.redis, cfg.Store.KeyPrefix),
			b.directory,
			oauth.Config{
				StateTTL:             cfg.OAuth.StateTTL,
				ExchangeTimeout:      cfg.OAuth.ExchangeTimeout,
				RequireBoundState:    cfg.OAuth.RequireBoundState,
				RequireVerifiedEmail: cfg.OAuth.RequireVerifiedEmail,
			},
			now,
			logger,
		)
		if err != nil {
			return nil, err
		}
		a.coordinator = coord
	}

	// -------- AUDIT / METRICS --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}
	a.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)
	a.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return a, nil
}
