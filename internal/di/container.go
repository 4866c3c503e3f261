package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrilink/api/internal/platform/config"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog services.CatalogService
	Orders  services.OrderService
	Users   services.UserService
	System  services.SystemService
}

// Extras carries optional collaborators that are not part of the repository
// registry. Any nil field disables the corresponding capability.
type Extras struct {
	Storage     services.UploadURLSigner
	ImageBucket string
	Checkout    services.CheckoutStarter
	Events      services.OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Build       services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, extras Extras) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, extras)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, extras Extras) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	if productsRepo := reg.Products(); productsRepo != nil {
		imageBucket := extras.ImageBucket
		if imageBucket == "" {
			imageBucket = cfg.Storage.ImagesBucket
		}
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Products:    productsRepo,
			Storage:     extras.Storage,
			ImageBucket: imageBucket,
			Clock:       time.Now,
			Logger:      extras.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if ordersRepo, countersRepo := reg.Orders(), reg.Counters(); ordersRepo != nil && countersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:   ordersRepo,
			Counters: countersRepo,
			Checkout: extras.Checkout,
			Events:   extras.Events,
			Clock:    time.Now,
			Logger:   extras.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if usersRepo := reg.Users(); usersRepo != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users: usersRepo,
			Clock: time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := extras.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
