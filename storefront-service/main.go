package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jeffsasaki/storefront/api"
	"github.com/jeffsasaki/storefront/auth"
	"github.com/jeffsasaki/storefront/cart"
	"github.com/jeffsasaki/storefront/checkout"
	"github.com/jeffsasaki/storefront/config"
	"github.com/jeffsasaki/storefront/fulfillment"
	"github.com/jeffsasaki/storefront/logging"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/notify"
	"github.com/jeffsasaki/storefront/payment"
	"github.com/jeffsasaki/storefront/store"
	"github.com/jeffsasaki/storefront/store/memstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "storefront",
		Short: "Storefront API: catalogue, checkout, fulfillment and back-office",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// backend is everything the HTTP layer needs from persistence.
type backend interface {
	api.Store
	auth.Users
	checkout.Products
	checkout.Users
	checkout.Orders
	fulfillment.Orders
	notify.Store
	notify.OutboxStore
}

type services struct {
	store    backend
	feed     store.ChangeFeed
	carts    cart.Persister
	notifier interface {
		fulfillment.Notifier
		api.StatusNotifier
	}
	closers []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// inMemoryServices runs without Postgres, RabbitMQ or Redis. Notifications
// are written inline and carts live on local disk.
func inMemoryServices(cartDir string, logger *zap.Logger) (*services, error) {
	db := memstore.New()
	db.Seed(defaultCatalogue...)
	carts, err := cart.NewFileStore(cartDir)
	if err != nil {
		return nil, err
	}
	return &services{
		store:    db,
		feed:     db,
		carts:    carts,
		notifier: notify.NewFanout(db, logger),
	}, nil
}

// postgresServices writes notifications through the outbox; the
// notification service relays and applies them.
func postgresServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services, error) {
	s := &services{}

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	feed, err := store.NewPQFeed(cfg.Database.URL, logger, store.ChannelOrders, store.ChannelNotifications)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, feed.Close)

	carts, err := cart.NewRedisStore(cfg.Redis.URL, cfg.Redis.CartTTL)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.closers = append(s.closers, carts.Close)

	s.store = db
	s.feed = feed
	s.carts = carts
	s.notifier = notify.NewOutboxWriter(db, cfg.RabbitMQ.Queue)
	return s, nil
}

func newHandler(cfg *config.Config, s *services, logger *zap.Logger) *api.Handler {
	gateway := payment.NewStripeGateway(cfg.Stripe)
	return api.New(api.Deps{
		Store:       s.store,
		Feed:        s.feed,
		Auth:        auth.NewService(s.store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Checkout:    checkout.NewInitiator(s.store, s.store, s.store, gateway, logger),
		Fulfillment: fulfillment.NewHandler(s.store, gateway, s.notifier, logger),
		Webhooks:    gateway,
		Carts:       s.carts,
		Notifier:    s.notifier,
		Logger:      logger,
	})
}

func serveCmd() *cobra.Command {
	var (
		inMemory bool
		cartDir  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var s *services
			if inMemory {
				logger.Warn("running with in-memory storage; data is lost on exit")
				s, err = inMemoryServices(cartDir, logger)
			} else {
				s, err = postgresServices(ctx, cfg, logger)
			}
			if err != nil {
				return err
			}
			defer s.Close()

			server := &http.Server{
				Addr:        ":" + cfg.HTTP.Port,
				Handler:     newHandler(cfg, s, logger).Routes(cfg.HTTP.RequestTimeout),
				ReadTimeout: 15 * time.Second,
				IdleTimeout: 60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", zap.String("port", cfg.HTTP.Port))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			logger.Info("server exited properly")
			return nil
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "use in-memory storage and local cart files instead of Postgres and Redis")
	cmd.Flags().StringVar(&cartDir, "cart-dir", filepath.Join(os.TempDir(), "storefront-carts"), "cart directory for --in-memory")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := store.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

type catalogueFile struct {
	Products []models.Product `yaml:"products"`
}

// loadCatalogue reads products from a YAML file, or returns the built-in
// demo catalogue when path is empty.
func loadCatalogue(path string) ([]models.Product, error) {
	if path == "" {
		return defaultCatalogue, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}
	for i, p := range f.Products {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("product %d: id and name are required", i)
		}
		if !models.ValidPrice(p.Price) {
			return nil, fmt.Errorf("product %s: invalid price %v", p.ID, p.Price)
		}
	}
	return f.Products, nil
}

type productWriter interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
}

// seedProducts upserts the catalogue and reports how many products were new.
func seedProducts(ctx context.Context, w productWriter, products []models.Product) (int, error) {
	created := 0
	for i := range products {
		p := products[i]
		err := w.CreateProduct(ctx, &p)
		if errors.Is(err, store.ErrDuplicate) {
			err = w.UpdateProduct(ctx, &p)
		} else if err == nil {
			created++
		}
		if err != nil {
			return created, fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
	}
	return created, nil
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a product catalogue into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			products, err := loadCatalogue(file)
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			created, err := seedProducts(cmd.Context(), db, products)
			if err != nil {
				return err
			}
			logger.Info("catalogue seeded", zap.Int("products", len(products)), zap.Int("created", created))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML catalogue (defaults to the demo catalogue)")
	return cmd
}

var defaultCatalogue = []models.Product{
	{ID: "desk-lamp", Name: "Desk Lamp", Description: "Adjustable LED desk lamp", Price: 25.00, ImageHint: "lamp"},
	{ID: "notebook", Name: "Notebook", Description: "A5 dotted notebook, 120 pages", Price: 4.99, ImageHint: "notebook"},
	{ID: "mug", Name: "Ceramic Mug", Description: "350 ml stoneware mug", Price: 12.50, ImageHint: "mug"},
	{ID: "backpack", Name: "Everyday Backpack", Description: "Water-resistant 20 L backpack", Price: 79.00, ImageHint: "backpack"},
}
