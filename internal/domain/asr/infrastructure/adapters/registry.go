package adapters

import (
	"sort"
	"sync"

	"meetscribe-server/internal/domain/asr/infrastructure/adapters/doubao"
	"meetscribe-server/internal/domain/asr/infrastructure/adapters/google"
	"meetscribe-server/internal/domain/asr/infrastructure/adapters/noop"
	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/platform/config"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

// Factory builds a recognizer from the recognizer section of the config.
type Factory func(cfg config.RecognizerConfig, logger *logging.Logger) (inter.Recognizer, error)

// Registry maps provider names to recognizer factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[google.ProviderName] = func(cfg config.RecognizerConfig, logger *logging.Logger) (inter.Recognizer, error) {
		return google.New(google.Settings{
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
		}, logger), nil
	}
	r.factories[doubao.ProviderName] = func(cfg config.RecognizerConfig, logger *logging.Logger) (inter.Recognizer, error) {
		return doubao.New(doubao.Settings{
			AppID:         cfg.Doubao.AppID,
			AccessToken:   cfg.Doubao.AccessToken,
			URL:           cfg.Endpoint,
			ResourceID:    cfg.Doubao.ResourceID,
			EndWindowSize: cfg.Doubao.EndWindowSize,
		}, logger)
	}
	r.factories[noop.ProviderName] = func(config.RecognizerConfig, *logging.Logger) (inter.Recognizer, error) {
		return noop.New(), nil
	}
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return errors.New(errors.KindConfig, "asr.registry", "factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.New(errors.KindConfig, "asr.registry", "recognizer '"+name+"' already registered")
	}
	r.factories[name] = factory
	return nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the recognizer named by cfg.Provider.
func (r *Registry) Create(cfg config.RecognizerConfig, logger *logging.Logger) (inter.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindConfig, "asr.registry", "recognizer '"+cfg.Provider+"' not found")
	}
	rec, err := factory(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, "asr.registry", "create recognizer "+cfg.Provider, err)
	}
	return rec, nil
}
