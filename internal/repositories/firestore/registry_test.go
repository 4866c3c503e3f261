package firestore

import (
	"testing"

	pconfig "github.com/agrilink/api/internal/platform/config"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
)

func TestNewRegistryRequiresProvider(t *testing.T) {
	if _, err := NewRegistry(nil, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestNewRegistryExposesRepositories(t *testing.T) {
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "registry-test"})

	reg, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if reg.Products() == nil || reg.Orders() == nil || reg.Users() == nil || reg.Counters() == nil {
		t.Fatalf("expected every repository accessor to be populated")
	}
	if reg.Health() != nil {
		t.Fatalf("expected health repository to stay nil when not supplied")
	}
}
