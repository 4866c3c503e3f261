//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/agrilink/api/internal/domain"
	pconfig "github.com/agrilink/api/internal/platform/config"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "order-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	products, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	seed := domain.Product{
		ID:          "prd_tomatoes",
		FarmerID:    "farmer-1",
		Name:        "Tomatoes",
		Category:    domain.CategoryVegetables,
		Unit:        domain.UnitKilogram,
		PriceCents:  25000,
		Quantity:    5,
		IsAvailable: true,
		IsApproved:  true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := products.Insert(ctx, seed); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	other := seed
	other.ID = "prd_maize"
	other.FarmerID = "farmer-2"
	other.Name = "Maize"
	if err := products.Insert(ctx, other); err != nil {
		t.Fatalf("seed second product: %v", err)
	}

	placement := repositories.OrderPlacement{
		OrderID:          "ord_test_1",
		Number:           "AG-2026-000001",
		CustomerID:       "customer-1",
		Lines:            []repositories.OrderLine{{ProductID: "prd_tomatoes", Quantity: 3}},
		PaymentMethod:    domain.PaymentCash,
		ExpectedDelivery: now.AddDate(0, 0, 7),
		Now:              now,
	}

	placed, err := orders.Place(ctx, placement)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if placed.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", placed.Status)
	}
	if placed.TotalCents != 75000 {
		t.Fatalf("expected total 75000, got %d", placed.TotalCents)
	}
	if placed.FarmerID != "farmer-1" {
		t.Fatalf("expected farmer-1, got %s", placed.FarmerID)
	}

	after, err := products.FindByID(ctx, "prd_tomatoes")
	if err != nil {
		t.Fatalf("find product after place: %v", err)
	}
	if after.Quantity != 2 || !after.IsAvailable {
		t.Fatalf("unexpected stock after place: %+v", after)
	}

	var orderErr *repositories.OrderError

	_, err = orders.Place(ctx, repositories.OrderPlacement{
		OrderID:    "ord_test_insufficient",
		Number:     "AG-2026-000002",
		CustomerID: "customer-1",
		Lines:      []repositories.OrderLine{{ProductID: "prd_tomatoes", Quantity: 10}},
		Now:        now.Add(time.Minute),
	})
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorInsufficientStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	orderErr = nil
	_, err = orders.Place(ctx, repositories.OrderPlacement{
		OrderID:    "ord_test_mixed",
		Number:     "AG-2026-000003",
		CustomerID: "customer-1",
		Lines: []repositories.OrderLine{
			{ProductID: "prd_tomatoes", Quantity: 1},
			{ProductID: "prd_maize", Quantity: 1},
		},
		Now: now.Add(time.Minute),
	})
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorMultipleFarmers {
		t.Fatalf("expected multiple farmers error, got %v", err)
	}

	confirmed, err := orders.UpdateStatus(ctx, repositories.OrderStatusChange{
		OrderID:  placed.ID,
		Expected: domain.OrderStatusPending,
		Next:     domain.OrderStatusConfirmed,
		Now:      now.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	orderErr = nil
	_, err = orders.UpdateStatus(ctx, repositories.OrderStatusChange{
		OrderID:  placed.ID,
		Expected: domain.OrderStatusPending,
		Next:     domain.OrderStatusConfirmed,
		Now:      now.Add(3 * time.Minute),
	})
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorStatusConflict {
		t.Fatalf("expected status conflict, got %v", err)
	}

	cancelledAt := now.Add(4 * time.Minute)
	cancelled, err := orders.Cancel(ctx, repositories.OrderCancellation{
		OrderID:  placed.ID,
		Expected: domain.OrderStatusConfirmed,
		Now:      cancelledAt,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	restored, err := products.FindByID(ctx, "prd_tomatoes")
	if err != nil {
		t.Fatalf("find product after cancel: %v", err)
	}
	if restored.Quantity != 5 || !restored.IsAvailable {
		t.Fatalf("unexpected stock after cancel: %+v", restored)
	}
}

func TestOrderRepositoryConcurrentPlacement(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "order-race-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	products, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	seed := domain.Product{
		ID:          "prd_last_crate",
		FarmerID:    "farmer-1",
		Name:        "Last crate of maize",
		Category:    domain.CategoryCrops,
		Unit:        domain.UnitPiece,
		PriceCents:  180000,
		Quantity:    1,
		IsAvailable: true,
		IsApproved:  true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := products.Insert(ctx, seed); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		placement := repositories.OrderPlacement{
			OrderID:       fmt.Sprintf("ord_race_%d", i),
			Number:        fmt.Sprintf("AG-2026-10000%d", i),
			CustomerID:    fmt.Sprintf("customer-%d", i),
			Lines:         []repositories.OrderLine{{ProductID: "prd_last_crate", Quantity: 1}},
			PaymentMethod: domain.PaymentCash,
			Now:           now,
		}
		go func(p repositories.OrderPlacement) {
			_, err := orders.Place(ctx, p)
			results <- err
		}(placement)
	}

	var placedCount, outOfStockCount int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			placedCount++
			continue
		}
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorInsufficientStock {
			outOfStockCount++
			continue
		}
		t.Fatalf("unexpected placement error: %v", err)
	}
	if placedCount != 1 || outOfStockCount != 1 {
		t.Fatalf("expected exactly one placement and one out-of-stock rejection, got %d and %d", placedCount, outOfStockCount)
	}

	drained, err := products.FindByID(ctx, "prd_last_crate")
	if err != nil {
		t.Fatalf("find product after race: %v", err)
	}
	if drained.Quantity != 0 || drained.IsAvailable {
		t.Fatalf("unexpected stock after race: %+v", drained)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
