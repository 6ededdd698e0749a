// Command basic serves a math service on /.
//
//	curl -H 'Content-Type: application/json' \
//	  -d '[{"jsonrpc":"2.0","id":1,"method":"math/add","params":[2,3]}]' localhost:8080
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnehpets/servicebox/host"
	"github.com/mnehpets/servicebox/internal/config"
	"github.com/mnehpets/servicebox/internal/ids"
	"github.com/mnehpets/servicebox/internal/logging"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/schema"
	"github.com/mnehpets/servicebox/service"
	"github.com/rs/zerolog/log"
)

// Math is a stateless calculator.
type Math struct {
	Add      *service.Method
	Subtract *service.Method
	Divide   *service.Method
}

func NewMath() *Math {
	svc := service.New()
	binary := service.Signature{
		Params:  []schema.Schema{schema.Number(), schema.Number()},
		Returns: schema.Number(),
	}
	add := binary
	add.Description = "Returns a + b."
	sub := binary
	sub.Description = "Returns a - b."
	div := binary
	div.Description = "Returns a / b. Fails when b is zero."

	return &Math{
		Add: svc.MustMethod(add, func(_ *service.Context, p service.Params) (any, error) {
			return p[0].(float64) + p[1].(float64), nil
		}),
		Subtract: svc.MustMethod(sub, func(_ *service.Context, p service.Params) (any, error) {
			return p[0].(float64) - p[1].(float64), nil
		}),
		Divide: svc.MustMethod(div, func(_ *service.Context, p service.Params) (any, error) {
			b := p[1].(float64)
			if b == 0 {
				return nil, jsonrpc.NewError(jsonrpc.CodeServerError, "Division by zero", nil)
			}
			return p[0].(float64) / b, nil
		}),
	}
}

func (m *Math) Members() service.Members {
	return service.Members{
		"add":      m.Add,
		"subtract": m.Subtract,
		"divide":   m.Divide,
	}
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

	h, err := host.New(map[string]service.Provider{"math": NewMath()},
		host.WithLogger(logging.Component(logger, "host")),
		host.WithSessionIDs(newID),
		host.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("host")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := h.Listen(ctx, cfg.Addr); err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
}
