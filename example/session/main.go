// Command session serves a small chat service. Callers are identified by a
// sealed session cookie and, when OIDC is configured, by a bearer ID token.
// Messages are pushed to recipients through the event bus and collected with
// GET /events.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/klauspost/compress/gzip"
	"github.com/mnehpets/servicebox/auth"
	"github.com/mnehpets/servicebox/endpoint"
	"github.com/mnehpets/servicebox/eventbus"
	"github.com/mnehpets/servicebox/host"
	"github.com/mnehpets/servicebox/internal/config"
	"github.com/mnehpets/servicebox/internal/ids"
	"github.com/mnehpets/servicebox/internal/logging"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/middleware"
	"github.com/mnehpets/servicebox/schema"
	"github.com/mnehpets/servicebox/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Chat keeps the signed-in users and the cookie sessions they use.
type Chat struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{} // user -> session ids

	message *service.Event
	members service.Members
}

var messageSchema = schema.Strict(schema.Properties{
	"from": schema.String(),
	"text": schema.String(),
})

func NewChat(mws ...service.Middleware) *Chat {
	c := &Chat{sessions: make(map[string]map[string]struct{})}
	svc := service.New(append([]service.Middleware{middleware.SessionIdentity()}, mws...)...)
	c.message = svc.Event(messageSchema)
	c.members = service.Members{
		"connect": svc.Handler(c.connect),
		"$message": c.message,
		"signIn": svc.MustMethod(service.Signature{
			Params:      []schema.Schema{schema.String()},
			Returns:     schema.String(),
			Description: "Signs the session in as the given user.",
		}, c.signIn),
		"signOut": svc.MustMethod(service.Signature{
			Description: "Signs the session out.",
		}, c.signOut),
		"whoami": svc.MustMethod(service.Signature{
			Returns:     schema.Record(schema.Any()),
			Description: "Returns the caller's identity.",
		}, func(ctx *service.Context, _ service.Params) (any, error) {
			return ctx.Identity, nil
		}),
		"send": svc.MustMethod(service.Signature{
			Params:      []schema.Schema{schema.String(), schema.String()},
			Returns:     schema.Integer(),
			Description: "Sends a message to a user and returns the number of sessions reached.",
		}, c.send),
	}
	return c
}

func (c *Chat) Members() service.Members {
	return c.members
}

// connect records the caller's session under its user.
func (c *Chat) connect(ctx *service.Context) error {
	user, ok := ctx.Identity.String(middleware.IdentityUser)
	if !ok {
		return nil
	}
	session, _ := ctx.Identity.String(middleware.IdentitySession)
	c.track(user, session)
	return nil
}

func (c *Chat) track(user, session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[user] == nil {
		c.sessions[user] = make(map[string]struct{})
	}
	c.sessions[user][session] = struct{}{}
}

func (c *Chat) untrack(user, session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions[user], session)
	if len(c.sessions[user]) == 0 {
		delete(c.sessions, user)
	}
}

func (c *Chat) signIn(ctx *service.Context, p service.Params) (any, error) {
	s, err := middleware.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	name, err := service.Param[string](p, 0)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, jsonrpc.InvalidParams("empty user name")
	}
	if err := s.SignIn(name); err != nil {
		return nil, err
	}
	c.track(name, s.ID())
	return name, nil
}

func (c *Chat) signOut(ctx *service.Context, _ service.Params) (any, error) {
	s, err := middleware.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if user, ok := s.User(); ok {
		c.untrack(user, s.ID())
	}
	return nil, s.SignOut()
}

func (c *Chat) send(ctx *service.Context, p service.Params) (any, error) {
	from, ok := ctx.Identity.String(middleware.IdentityUser)
	if !ok {
		return nil, auth.Unauthorized("sign in first")
	}
	to, text := p[0].(string), p[1].(string)

	c.mu.Lock()
	targets := make([]string, 0, len(c.sessions[to]))
	for id := range c.sessions[to] {
		targets = append(targets, id)
	}
	c.mu.Unlock()

	for _, id := range targets {
		c.message.Send(id, map[string]any{"from": from, "text": text})
	}
	return len(targets), nil
}

// EventsParams selects how long GET /events waits, in seconds.
type EventsParams struct {
	Wait int `query:"wait"`
}

// eventsEndpoint waits for the next notification addressed to the caller's
// cookie session.
func eventsEndpoint(bus *eventbus.Bus) endpoint.EndpointFunc[EventsParams] {
	return func(_ http.ResponseWriter, r *http.Request, p EventsParams) (endpoint.Renderer, error) {
		s, ok := middleware.SessionFromContext(r.Context())
		if !ok || s.ID() == "" {
			return nil, endpoint.Error(http.StatusUnauthorized, "no session", nil)
		}
		wait := time.Duration(p.Wait) * time.Second
		if wait <= 0 || wait > time.Minute {
			wait = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()

		ch, err := bus.Subscribe(ctx, s.ID())
		if err != nil {
			return nil, err
		}
		select {
		case n, ok := <-ch:
			if ok {
				return &endpoint.JSONRenderer{Value: n}, nil
			}
		case <-ctx.Done():
		}
		return &endpoint.NoContentRenderer{}, nil
	}
}

func sessionKeys(cfg *config.Config, logger zerolog.Logger) map[string][]byte {
	keys, ok, err := cfg.SessionKeys()
	if err != nil {
		logger.Fatal().Err(err).Msg("session keys")
	}
	if ok {
		return keys
	}
	logger.Warn().Msg("no session.key configured, using a random key")
	key := make([]byte, middleware.KeySize)
	if _, err := rand.Read(key); err != nil {
		logger.Fatal().Err(err).Msg("session key")
	}
	return map[string][]byte{cfg.Session.KeyID: key}
}

func bearer(ctx context.Context, cfg *config.Config) ([]service.Middleware, error) {
	if cfg.OIDC.Issuer == "" {
		return nil, nil
	}
	reg := auth.NewRegistry()
	err := reg.RegisterOIDCProvider(ctx, "oidc", cfg.OIDC.Issuer, cfg.OIDC.ClientID,
		[]string{oidc.ScopeOpenID, "profile", "email"})
	if err != nil {
		return nil, err
	}
	return []service.Middleware{auth.Bearer(reg)}, nil
}

func main() {
	configFile := flag.String("config", "", "config file (yaml, json or toml)")
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile, *configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("logging")
	}
	newID, err := ids.Named(cfg.SessionIDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("session ids")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := middleware.NewSessionProcessor(cfg.Session.KeyID, sessionKeys(cfg, logger),
		middleware.WithCookieName(cfg.Session.CookieName),
		middleware.WithCookieOptions(middleware.CookieSecure(cfg.Session.Secure)),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("session processor")
	}
	mws, err := bearer(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("oidc")
	}

	headerOpts := []middleware.HeadersOption{middleware.WithOrigins(cfg.CORS.Origins...)}
	if cfg.CORS.Credentials {
		headerOpts = append(headerOpts, middleware.WithCredentials())
	}
	if !cfg.Session.Secure {
		headerOpts = append(headerOpts, middleware.WithoutHSTS())
	}
	headers := middleware.NewHeadersProcessor(headerOpts...)

	bus := eventbus.New(eventbus.WithLogger(logging.Component(logger, "eventbus")))
	defer bus.Close()

	h, err := host.New(map[string]service.Provider{"chat": NewChat(mws...)},
		host.WithLogger(logging.Component(logger, "host")),
		host.WithSessionIDs(newID),
		host.WithMaxBodyBytes(cfg.MaxBodyBytes),
		host.WithEventSink(bus),
		host.WithProcessors(headers, sessions),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("host")
	}

	access := endpoint.AccessLog(logging.Component(logger, "http"))
	mux := http.NewServeMux()
	mux.Handle("/rpc", h.Handler(middleware.Compress(gzip.DefaultCompression), access))
	mux.Handle("GET /events", endpoint.Handler(eventsEndpoint(bus), endpoint.Recover(logger), headers, sessions, access))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()
	logger.Info().Str("addr", cfg.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
}
