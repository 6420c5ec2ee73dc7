package adapters

import (
	"testing"

	"meetscribe-server/internal/domain/asr/infrastructure/adapters/noop"
	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/platform/config"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	names := r.Names()
	if len(names) != 3 || names[0] != "doubao" || names[1] != "google" || names[2] != "noop" {
		t.Fatalf("names = %v", names)
	}

	rec, err := r.Create(config.RecognizerConfig{Provider: "google"}, logging.Discard())
	if err != nil {
		t.Fatalf("create google: %v", err)
	}
	if rec.Name() != "google" {
		t.Fatalf("name = %q", rec.Name())
	}
}

func TestRegistryDoubaoNeedsCredentials(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(config.RecognizerConfig{Provider: "doubao"}, nil); !errors.IsKind(err, errors.KindConfig) {
		t.Fatalf("missing credentials err = %v", err)
	}

	rec, err := r.Create(config.RecognizerConfig{
		Provider: "doubao",
		Doubao:   config.DoubaoConfig{AppID: "app", AccessToken: "token"},
	}, nil)
	if err != nil {
		t.Fatalf("create doubao: %v", err)
	}
	if rec.Name() != "doubao" {
		t.Fatalf("name = %q", rec.Name())
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := NewRegistry().Create(config.RecognizerConfig{Provider: "whisper"}, nil)
	if !errors.IsKind(err, errors.KindConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	custom := func(config.RecognizerConfig, *logging.Logger) (inter.Recognizer, error) { return noop.New(), nil }

	if err := r.Register("noop", custom); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := r.Register("local", nil); err == nil {
		t.Fatal("nil factory accepted")
	}
	if err := r.Register("local", custom); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Create(config.RecognizerConfig{Provider: "local"}, nil); err != nil {
		t.Fatalf("create local: %v", err)
	}
}
