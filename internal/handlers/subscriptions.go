package handlers

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/events/dispatch"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

const SubscriptionsEnv = "HANDLER_SUBSCRIPTIONS_YAML"

// AllKinds subscribes a handler to every event kind.
const AllKinds = "*"

//go:embed subscriptions.yaml
var subscriptionsFS embed.FS

type Subscription struct {
	Handler string   `yaml:"handler"`
	Kinds   []string `yaml:"kinds"`
	Enabled *bool    `yaml:"enabled"`
}

type subscriptionsFile struct {
	Version       int            `yaml:"version"`
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// LoadSubscriptions reads the file named by HANDLER_SUBSCRIPTIONS_YAML, or the
// embedded default.
func LoadSubscriptions() ([]Subscription, error) {
	var (
		data []byte
		err  error
	)
	if path := strings.TrimSpace(os.Getenv(SubscriptionsEnv)); path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = subscriptionsFS.ReadFile("subscriptions.yaml")
	}
	if err != nil {
		return nil, err
	}
	return ParseSubscriptions(data)
}

func ParseSubscriptions(data []byte) ([]Subscription, error) {
	var f subscriptionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported subscriptions version %d", f.Version)
	}
	var errs []error
	for i, s := range f.Subscriptions {
		if strings.TrimSpace(s.Handler) == "" {
			errs = append(errs, fmt.Errorf("subscription %d: handler is required", i))
		}
		if len(s.Kinds) == 0 {
			errs = append(errs, fmt.Errorf("subscription %d (%s): kinds are required", i, s.Handler))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Subscriptions, nil
}

// Bind registers each available handler for its subscribed kinds. Subscriptions
// naming a handler that is not available (for example redis is not configured)
// are skipped; kinds outside known are rejected, as is a handler subscribed to
// "*" and to a specific kind.
func Bind(reg *dispatch.Registry, subs []Subscription, available []dispatch.Handler, known []string, log *logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	byName := make(map[string]dispatch.Handler, len(available))
	for _, h := range available {
		if h != nil {
			byName[h.Name()] = h
		}
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	for _, s := range subs {
		if s.Enabled != nil && !*s.Enabled {
			continue
		}
		h, ok := byName[s.Handler]
		if !ok {
			log.Warn("handler not available; subscription skipped", "handler", s.Handler)
			continue
		}
		for _, kind := range s.Kinds {
			kind = strings.TrimSpace(kind)
			if kind == AllKinds {
				if err := reg.RegisterAll(h); err != nil {
					return err
				}
				continue
			}
			if _, ok := knownSet[kind]; !ok {
				return fmt.Errorf("handler %s subscribes to unknown kind %q", s.Handler, kind)
			}
			if err := reg.Register(kind, h); err != nil {
				return err
			}
		}
		log.Info("handler subscribed", "handler", s.Handler, "kinds", strings.Join(s.Kinds, ","))
	}
	return nil
}
